package audit

import "context"

// Exec runs raw statements against the journal database
func (j *Journal) Exec(ctx context.Context, query string) (err error) {
	_, err = j.db.ExecContext(ctx, query)
	return err
}
