package payments

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
)

// Notification is one webhook delivery as received over HTTP.
type Notification struct {
	// Signature is the raw x-signature header.
	Signature string
	// RequestID is the x-request-id header.
	RequestID string
	// DataID is the data.id query parameter; the body value is used when empty.
	DataID string
	Body   []byte
	// ReadErr is set when the body could not be read in full; Body then holds
	// whatever arrived before the failure.
	ReadErr error
}

// envelope is the provider notification body.
type envelope struct {
	ID     flexibleID    `json:"id"`
	Type   string        `json:"type"`
	Action string        `json:"action"`
	Data   paymentNotice `json:"data"`
}

// paymentNotice carries the payment state reported by the provider.
type paymentNotice struct {
	ID                flexibleID       `json:"id" validate:"required"`
	Status            string           `json:"status" validate:"required"`
	ExternalReference string           `json:"external_reference"`
	PreferenceID      string           `json:"preference_id"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string           `json:"currency_id"`
	Payer             struct {
		Email string `json:"email" validate:"omitempty,email"`
	} `json:"payer"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// headerFields pulls the identifying fields of a body without validating it,
// so the log row can be written even for garbage.
func headerFields(body []byte) (eventType, deliveryID, dataID string) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", ""
	}
	eventType = env.Type
	if env.Action != "" {
		eventType = env.Action
	}
	return eventType, string(env.ID), string(env.Data.ID)
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

func decodeNotice(body []byte) (*paymentNotice, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode notification")
	}
	if err := validate.Struct(&env.Data); err != nil {
		details := map[string]string{}
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				details[fe.Field()] = fe.Tag()
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification").WithDetails(details)
	}
	env.Data.Status = strings.ToLower(strings.TrimSpace(env.Data.Status))
	return &env.Data, nil
}

const unreadablePrefixBytes = 1 << 10

// unreadablePayload keeps a bounded marker of a body that failed to read.
func unreadablePayload(body []byte) json.RawMessage {
	prefix := body
	if len(prefix) > unreadablePrefixBytes {
		prefix = prefix[:unreadablePrefixBytes]
	}
	marker, err := json.Marshal(map[string]any{
		"unreadable": true,
		"bytes_read": len(body),
		"prefix":     string(prefix),
	})
	if err != nil {
		return json.RawMessage(`{"unreadable":true}`)
	}
	return marker
}

// storablePayload makes body safe for a jsonb column.
func storablePayload(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

type transition int

const (
	transitionNone transition = iota
	transitionApprove
	transitionClose
)

// mapProviderStatus turns a provider status into a local transition.
func mapProviderStatus(status string) (transition, enums.PaymentStatus) {
	switch status {
	case "approved":
		return transitionApprove, enums.PaymentStatusApproved
	case "rejected":
		return transitionClose, enums.PaymentStatusRejected
	case "cancelled", "canceled":
		return transitionClose, enums.PaymentStatusCanceled
	case "refunded", "charged_back":
		return transitionClose, enums.PaymentStatusRefunded
	default:
		return transitionNone, ""
	}
}
