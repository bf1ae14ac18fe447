// Package methods stores the tokenized payment methods of donors.
package methods

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"

	"anarchy.ttfm/donations/currency"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("payment method not found")
	ErrFullCardNumber = errors.New("full card numbers are never stored")
	ErrMissingToken   = errors.New("payment method token is required")
	ErrInvalidMasking = errors.New("last four must be exactly four digits")
)

func MethodKey(userId, id string) (key []byte) {
	return []byte(fmt.Sprintf("/methods/%s/%s", userId, id))
}

func methodsPrefix(userId string) (prefix []byte) {
	return []byte(fmt.Sprintf("/methods/%s/", userId))
}

// Encrypter seals tokens at rest
type Encrypter interface {
	Encrypt(plaintext string) (sealed string, err error)
	Decrypt(sealed string) (plaintext string, err error)
}

type Registration struct {
	Type     gateways.MethodType `json:"type"`
	Provider string              `json:"provider,omitempty"`
	Currency currency.Code       `json:"currencyCode,omitempty"`
	Country  string              `json:"countryCode"`
	// Must stay empty. Present so a client sending a card number is refused
	// instead of silently dropped.
	Number      string `json:"number,omitempty"`
	LastFour    string `json:"lastFour,omitempty"`
	ExpiryMonth int    `json:"expiryMonth,omitempty"`
	ExpiryYear  int    `json:"expiryYear,omitempty"`
	Token       string `json:"token"`
}

type Config struct {
	DB *badger.DB
	// Optional
	Cipher Encrypter
}

type Store struct {
	db     *badger.DB
	cipher Encrypter
}

func New(config Config) (s *Store) {
	return &Store{db: config.DB, cipher: config.Cipher}
}

// looksLikePan flags strings of 12 or more digits, ignoring separators
func looksLikePan(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 12
}

func (r *Registration) check() (err error) {
	if r.Number != "" || looksLikePan(r.Token) || looksLikePan(r.LastFour) {
		return ErrFullCardNumber
	}
	err = r.Type.Validate()
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.Token) == "" {
		return ErrMissingToken
	}
	if r.LastFour != "" && (len(r.LastFour) != 4 || strings.IndexFunc(r.LastFour, func(c rune) bool { return !unicode.IsDigit(c) }) >= 0) {
		return ErrInvalidMasking
	}
	return nil
}

func (s *Store) seal(m donation.PaymentMethod) (out donation.PaymentMethod, err error) {
	if s.cipher == nil {
		return m, nil
	}
	m.Token, err = s.cipher.Encrypt(m.Token)
	if err != nil {
		return m, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return m, nil
}

func (s *Store) open(m donation.PaymentMethod) (out donation.PaymentMethod, err error) {
	if s.cipher == nil {
		return m, nil
	}
	m.Token, err = s.cipher.Decrypt(m.Token)
	if err != nil {
		return m, fmt.Errorf("failed to decrypt token: %w", err)
	}
	return m, nil
}

// Register stores a masked method for userId
func (s *Store) Register(userId string, req Registration) (method donation.PaymentMethod, err error) {
	err = req.check()
	if err != nil {
		return method, fmt.Errorf("failed to validate method: %w", err)
	}

	method = donation.PaymentMethod{
		Id:          uuid.NewString(),
		UserId:      userId,
		Type:        req.Type,
		Provider:    req.Provider,
		Currency:    currency.Normalize(string(req.Currency)),
		Country:     strings.ToUpper(req.Country),
		LastFour:    req.LastFour,
		ExpiryMonth: req.ExpiryMonth,
		ExpiryYear:  req.ExpiryYear,
		Token:       req.Token,
	}

	stored, err := s.seal(method)
	if err != nil {
		return method, err
	}
	err = s.db.Update(func(txn *badger.Txn) (err error) {
		return txn.Set(MethodKey(userId, method.Id), encode(&stored))
	})
	if err != nil {
		return method, fmt.Errorf("failed to store method: %w", err)
	}
	return method, nil
}

// Get returns the method with its token in clear
func (s *Store) Get(userId, id string) (method donation.PaymentMethod, err error) {
	err = s.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(MethodKey(userId, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to query method: %w", err)
		}
		return item.Value(func(val []byte) (err error) {
			return decode(val, &method)
		})
	})
	if err != nil {
		return method, err
	}
	return s.open(method)
}

// List returns the methods of userId without tokens
func (s *Store) List(userId string) (methods []donation.PaymentMethod, err error) {
	prefix := methodsPrefix(userId)
	err = s.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var method donation.PaymentMethod
			err = it.Item().Value(func(val []byte) (err error) {
				return decode(val, &method)
			})
			if err != nil {
				log.Println("[methods] failed to decode method:", err)
				continue
			}
			method.Token = ""
			methods = append(methods, method)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list methods: %w", err)
	}
	return methods, nil
}

// Lookup satisfies the service contract of the donation pipeline
func (s *Store) Lookup(userId, id string) (method donation.PaymentMethod, err error) {
	method, err = s.Get(userId, id)
	if errors.Is(err, ErrNotFound) {
		return method, &donation.ValidationError{Rule: donation.RuleMethod, Message: "unknown payment method"}
	}
	return method, err
}
