package apitokens

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/services"
	"philcali.me/notify/internal/dynamodb/token"
)

// GLOBAL_OWNER partitions every token together so the authorizer can look
// one up by value alone.
const GLOBAL_OWNER = "Global"

func _generateTokenHash() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

func NewApiTokenService(tableName string, client services.Client, marshaler token.TokenMarshaler) data.ApiTokenRepository {
	return &services.RepositoryDynamoDBService[data.ApiTokenDTO, data.ApiTokenInputDTO]{
		DynamoDB:       client,
		TableName:      tableName,
		TokenMarshaler: marshaler,
		Name:           "ApiToken",
		NewId:          _generateTokenHash,
		GetSK: func(at data.ApiTokenDTO) string {
			return at.SK
		},
		Shim: func(pk, sk string) data.ApiTokenDTO {
			return data.ApiTokenDTO{PK: pk, SK: sk}
		},
		OnCreate: func(atid data.ApiTokenInputDTO, t time.Time, pk, sk string) data.ApiTokenDTO {
			dto := data.ApiTokenDTO{
				PK:         pk,
				SK:         sk,
				ExpiresIn:  atid.ExpiresIn,
				CreateTime: t,
				UpdateTime: t,
			}
			if atid.Name != nil {
				dto.Name = *atid.Name
			}
			if atid.Scopes != nil {
				dto.Scopes = *atid.Scopes
			}
			if atid.AccountId != nil {
				dto.AccountId = *atid.AccountId
			}
			return dto
		},
	}
}
