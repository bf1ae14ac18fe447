package donation

const Redacted = "[redacted]"

// Public returns the view of d served to lower trust consumers. Sensitive
// audit details are replaced while the number and order of entries stay.
func Public(d *Donation) (view Donation) {
	view = d.Clone()
	view.IdempotencyKey = ""
	view.PaymentMethod.Token = ""
	view.Error = ""
	if view.Anonymous {
		// A dedication can name the donor
		view.UserId = ""
		view.Dedication = ""
	}
	for index, entry := range view.AuditTrail {
		if !entry.Sensitive {
			continue
		}
		entry.Details = map[string]any{"redacted": true}
		view.AuditTrail[index] = entry
	}
	return view
}
