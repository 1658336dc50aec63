package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

type EncryptMode func(cipher.Block) (cipher.AEAD, error)

// EncryptionTokenMarshaler seals paging keys with AES so a token issued for
// one partition cannot be replayed against another.
type EncryptionTokenMarshaler struct {
	Mode   EncryptMode
	Secret []byte
}

func NewGCM(secret []byte) *EncryptionTokenMarshaler {
	return &EncryptionTokenMarshaler{
		Mode:   cipher.NewGCM,
		Secret: secret,
	}
}

type sealed struct {
	Nonce      []byte `json:"n"`
	Ciphertext []byte `json:"c"`
}

func _fromLastKey(lastKey map[string]types.AttributeValue) ([]byte, error) {
	if len(lastKey) == 0 {
		return nil, nil
	}
	next := make(data.NextToken, len(lastKey))
	for field, value := range lastKey {
		switch v := value.(type) {
		case *types.AttributeValueMemberS:
			next[field] = map[string]string{"S": v.Value}
		case *types.AttributeValueMemberN:
			next[field] = map[string]string{"N": v.Value}
		case *types.AttributeValueMemberB:
			next[field] = map[string]string{"B": base64.StdEncoding.EncodeToString(v.Value)}
		default:
			return nil, errors.Newf("unsupported key attribute %s of type %T", field, value)
		}
	}
	return json.Marshal(next)
}

func _toLastKey(plaintext []byte) (map[string]types.AttributeValue, error) {
	var next data.NextToken
	if err := json.Unmarshal(plaintext, &next); err != nil {
		return nil, err
	}
	lastKey := make(map[string]types.AttributeValue, len(next))
	for field, typed := range next {
		if sv, ok := typed["S"]; ok {
			lastKey[field] = &types.AttributeValueMemberS{Value: sv}
		} else if nv, ok := typed["N"]; ok {
			lastKey[field] = &types.AttributeValueMemberN{Value: nv}
		} else if bv, ok := typed["B"]; ok {
			raw, err := base64.StdEncoding.DecodeString(bv)
			if err != nil {
				return nil, err
			}
			lastKey[field] = &types.AttributeValueMemberB{Value: raw}
		}
	}
	return lastKey, nil
}

func (em *EncryptionTokenMarshaler) _aead(ownerId string) (cipher.AEAD, error) {
	hash := sha256.New()
	hash.Write(em.Secret)
	hash.Write([]byte(ownerId))
	block, err := aes.NewCipher(hash.Sum(nil))
	if err != nil {
		return nil, err
	}
	return em.Mode(block)
}

func (em *EncryptionTokenMarshaler) Marshal(ownerId string, lastKey map[string]types.AttributeValue) ([]byte, error) {
	plaintext, err := _fromLastKey(lastKey)
	if err != nil || plaintext == nil {
		return nil, err
	}
	aead, err := em._aead(ownerId)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate token nonce")
	}
	payload, err := json.Marshal(sealed{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(ownerId)),
	})
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.RawURLEncoding.EncodedLen(len(payload)))
	base64.RawURLEncoding.Encode(encoded, payload)
	return encoded, nil
}

// Unmarshal rejects tokens that were not issued for ownerId with an InvalidInputError.
func (em *EncryptionTokenMarshaler) Unmarshal(ownerId string, token []byte) (map[string]types.AttributeValue, error) {
	if len(token) == 0 {
		return nil, nil
	}
	invalid := exceptions.InvalidInput("nextToken is not valid for " + ownerId)
	payload := make([]byte, base64.RawURLEncoding.DecodedLen(len(token)))
	n, err := base64.RawURLEncoding.Decode(payload, token)
	if err != nil {
		return nil, errors.WithSecondaryError(invalid, err)
	}
	var box sealed
	if err := json.Unmarshal(payload[:n], &box); err != nil {
		return nil, errors.WithSecondaryError(invalid, err)
	}
	aead, err := em._aead(ownerId)
	if err != nil {
		return nil, err
	}
	if len(box.Nonce) != aead.NonceSize() {
		return nil, invalid
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, []byte(ownerId))
	if err != nil {
		return nil, errors.WithSecondaryError(invalid, err)
	}
	return _toLastKey(plaintext)
}
