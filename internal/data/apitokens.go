package data

import "time"

type Scope string

const (
	TOPICS_READ         Scope = "topics.readonly"
	TOPICS_WRITE        Scope = "topics"
	SUBSCRIPTIONS_READ  Scope = "subscriptions.readonly"
	SUBSCRIPTIONS_WRITE Scope = "subscriptions"
	SMS_READ            Scope = "sms.readonly"
	SMS_WRITE           Scope = "sms"
	TOKENS_READ         Scope = "tokens.readonly"
	TOKENS_WRITE        Scope = "tokens"
)

// AllScopes is granted to interactive users.
var AllScopes = []Scope{TOPICS_WRITE, SUBSCRIPTIONS_WRITE, SMS_WRITE, TOKENS_WRITE}

func (s Scope) Valid() bool {
	switch s {
	case TOPICS_READ, TOPICS_WRITE, SUBSCRIPTIONS_READ, SUBSCRIPTIONS_WRITE, SMS_READ, SMS_WRITE, TOKENS_READ, TOKENS_WRITE:
		return true
	}
	return false
}

type ApiTokenDTO struct {
	PK         string    `dynamodbav:"PK"`
	SK         string    `dynamodbav:"SK"`
	AccountId  string    `dynamodbav:"accountId"`
	Name       string    `dynamodbav:"name"`
	Scopes     []Scope   `dynamodbav:"scopes"`
	ExpiresIn  *int      `dynamodbav:"expiresIn"`
	CreateTime time.Time `dynamodbav:"createTime"`
	UpdateTime time.Time `dynamodbav:"updateTime"`
}

// Expired reports whether the token's expiry (unix seconds) has passed.
func (t ApiTokenDTO) Expired(now time.Time) bool {
	return t.ExpiresIn != nil && int64(*t.ExpiresIn) <= now.Unix()
}

type ApiTokenInputDTO struct {
	Name      *string  `dynamodbav:"name"`
	Scopes    *[]Scope `dynamodbav:"scopes"`
	AccountId *string  `dynamodbav:"accountId"`
	ExpiresIn *int     `dynamodbav:"expiresIn"`
}

type ApiTokenRepository interface {
	Repository[ApiTokenDTO, ApiTokenInputDTO]
}
