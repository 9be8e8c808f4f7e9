package secretvault

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"
)

// SerializerName is the tag value credential-bearing model fields use:
// `gorm:"serializer:encrypted"`. Registering the serializer once makes the
// encrypt/decrypt interception happen at the data-access boundary, so no
// call site can forget it.
const SerializerName = "encrypted"

// Serializer adapts a Vault to GORM's field serializer interface
type Serializer struct {
	vault *Vault
}

// Register installs the encrypted serializer globally. Must be called once
// at startup, before any model using the tag is read or written.
func Register(vault *Vault) {
	schema.RegisterSerializer(SerializerName, &Serializer{vault: vault})
}

// Scan decrypts a stored credential column into the model field
func (s *Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue any) error {
	var ciphertext string
	switch v := dbValue.(type) {
	case nil:
		// absent secret stays absent
	case string:
		ciphertext = v
	case []byte:
		ciphertext = string(v)
	default:
		return fmt.Errorf("secretvault: unsupported column type %T for field %s", dbValue, field.Name)
	}

	plaintext, err := s.vault.Decrypt(ciphertext)
	if err != nil {
		return fmt.Errorf("secretvault: decrypting field %s: %w", field.Name, err)
	}
	field.ReflectValueOf(ctx, dst).SetString(plaintext)
	return nil
}

// Value encrypts the model field before it reaches the SQL layer
func (s *Serializer) Value(_ context.Context, field *schema.Field, _ reflect.Value, fieldValue any) (any, error) {
	plaintext, ok := fieldValue.(string)
	if !ok {
		return nil, fmt.Errorf("secretvault: field %s must be a string", field.Name)
	}
	return s.vault.Encrypt(plaintext)
}
