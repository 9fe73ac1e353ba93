package chat

import "github.com/google/uuid"

// IDProvider issues identifiers for server-created rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// validClientID reports whether a client-chosen id is a UUID.
func validClientID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}
