package hospital

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is a backend identifier. Values shaped like a Mongo ObjectID are kept in
// canonical lowercase hex so the same record always has the same key.
type ID string

// CanonicalID trims s and lowercases it when it is an ObjectID.
func CanonicalID(s string) ID {
	s = strings.TrimSpace(s)
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return ID(oid.Hex())
	}
	return ID(s)
}

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts a string, a number, or extended JSON {"$oid": "..."}.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ""
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = CanonicalID(s)
	case '{':
		var ext struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(trimmed, &ext); err != nil {
			return err
		}
		*id = CanonicalID(ext.OID)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("identifier must be a string or number, got %s", trimmed)
		}
		*id = ID(n.String())
	}
	return nil
}

// Ref is a foreign key to a T. The backend sends it either as a bare
// identifier or as the referenced document embedded in place; both decode to
// the same canonical ID, and an embedded document is kept for display when
// the local collections do not contain the referenced record.
type Ref[T any] struct {
	ID       ID
	Embedded *T
}

// RefTo builds a reference holding only an identifier.
func RefTo[T any](id ID) Ref[T] {
	return Ref[T]{ID: id}
}

// Clone returns r with its own copy of the embedded document.
func (r Ref[T]) Clone() Ref[T] {
	if r.Embedded != nil {
		doc := *r.Embedded
		r.Embedded = &doc
	}
	return r
}

func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	*r = Ref[T]{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return r.ID.UnmarshalJSON(trimmed)
	}

	var head struct {
		OID   string `json:"$oid"`
		ID    ID     `json:"_id"`
		AltID ID     `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return fmt.Errorf("decode reference: %w", err)
	}
	if head.OID != "" {
		r.ID = CanonicalID(head.OID)
		return nil
	}

	var doc T
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return fmt.Errorf("decode embedded reference: %w", err)
	}
	r.Embedded = &doc
	r.ID = head.ID
	if r.ID == "" {
		r.ID = head.AltID
	}
	return nil
}

// MarshalJSON always writes the bare identifier.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r.ID))
}
