package methods_test

import (
	"testing"

	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/fieldcrypt"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/methods"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
)

func newDB(t *testing.T) *badger.DB {
	options := badger.
		DefaultOptions("").
		WithLogger(nil).
		WithInMemory(true)
	db, err := badger.Open(options)
	assert.Nil(t, err, "failed to open database")
	t.Cleanup(func() { db.Close() })
	return db
}

func Test_Store(t *testing.T) {
	assertions := assert.New(t)

	cipher, err := fieldcrypt.New(fieldcrypt.Config{Key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"})
	assertions.Nil(err)
	db := newDB(t)
	store := methods.New(methods.Config{DB: db, Cipher: cipher})

	card, err := store.Register("user-1", methods.Registration{
		Type:        gateways.MethodCreditCard,
		Country:     "il",
		LastFour:    "4242",
		ExpiryMonth: 10,
		ExpiryYear:  2031,
		Token:       "tok_card",
	})
	assertions.Nil(err)
	assertions.Equal("IL", card.Country)

	_, err = store.Register("user-1", methods.Registration{Type: gateways.MethodRegionalDebit, Country: "IL", Token: "tok_debit"})
	assertions.Nil(err)

	got, err := store.Get("user-1", card.Id)
	assertions.Nil(err)
	assertions.Equal("tok_card", got.Token)

	listed, err := store.List("user-1")
	assertions.Nil(err)
	assertions.Len(listed, 2)
	for _, method := range listed {
		assertions.Empty(method.Token)
	}

	other, err := store.List("user-2")
	assertions.Nil(err)
	assertions.Empty(other)

	_, err = store.Get("user-2", card.Id)
	assertions.ErrorIs(err, methods.ErrNotFound)

	_, err = store.Lookup("user-1", "missing")
	var verr *donation.ValidationError
	assertions.ErrorAs(err, &verr)

	// Token at rest is sealed
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(methods.MethodKey("user-1", card.Id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			assertions.NotContains(string(val), "tok_card")
			return nil
		})
	})
	assertions.Nil(err)
}

func Test_Registration(t *testing.T) {
	store := methods.New(methods.Config{DB: newDB(t)})

	tests := []struct {
		Name string
		Req  methods.Registration
		Err  error
	}{
		{Name: "Card number field", Req: methods.Registration{Type: gateways.MethodCreditCard, Number: "4242424242424242", Token: "tok"}, Err: methods.ErrFullCardNumber},
		{Name: "PAN as token", Req: methods.Registration{Type: gateways.MethodCreditCard, Token: "4242 4242 4242 4242"}, Err: methods.ErrFullCardNumber},
		{Name: "PAN as last four", Req: methods.Registration{Type: gateways.MethodCreditCard, LastFour: "4242424242424242", Token: "tok"}, Err: methods.ErrFullCardNumber},
		{Name: "Missing token", Req: methods.Registration{Type: gateways.MethodBankTransfer}, Err: methods.ErrMissingToken},
		{Name: "Bad masking", Req: methods.Registration{Type: gateways.MethodCreditCard, LastFour: "42a2", Token: "tok"}, Err: methods.ErrInvalidMasking},
		{Name: "Unknown type", Req: methods.Registration{Type: "cash", Token: "tok"}, Err: gateways.ErrInvalidMethodType},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			_, err := store.Register("user-1", test.Req)
			assert.ErrorIs(t, err, test.Err)
		})
	}
}
