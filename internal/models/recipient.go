package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

type TransferMethod string

const (
	MethodDirect TransferMethod = "direct"
	MethodWire   TransferMethod = "wire"
	MethodBank   TransferMethod = "bank"
	MethodCard   TransferMethod = "card"
	MethodP2P    TransferMethod = "p2p"
	MethodOther  TransferMethod = "other"
)

func (m TransferMethod) Valid() bool {
	switch m {
	case MethodDirect, MethodWire, MethodBank, MethodCard, MethodP2P, MethodOther:
		return true
	}
	return false
}

// notAvailable fills descriptor fields the sender left blank.
const notAvailable = "N/A"

// RecipientInfo describes where a transfer went. The set of implementations is
// closed: DirectRecipient, WireRecipient, BankRecipient, CardRecipient,
// P2PRecipient and OtherRecipient.
type RecipientInfo interface {
	Method() TransferMethod
	MemoText() string
	isRecipientInfo()
}

// DirectRecipient is another account of this bank.
type DirectRecipient struct {
	Email    string
	Username string
	Memo     string
}

type WireRecipient struct {
	SwiftCode     string
	BankName      string
	AccountNumber string
	Country       string
	Memo          string
}

type BankRecipient struct {
	RoutingNumber string
	AccountNumber string
	BankName      string
	AccountType   string
	Memo          string
}

// CardRecipient keeps only the last four digits of the card number.
type CardRecipient struct {
	Last4          string
	CardholderName string
	Memo           string
}

type P2PRecipient struct {
	PhoneNumber string
	Platform    string
	Memo        string
}

type OtherRecipient struct {
	Label     string
	Recipient string
	Memo      string
}

func (DirectRecipient) Method() TransferMethod { return MethodDirect }
func (WireRecipient) Method() TransferMethod   { return MethodWire }
func (BankRecipient) Method() TransferMethod   { return MethodBank }
func (CardRecipient) Method() TransferMethod   { return MethodCard }
func (P2PRecipient) Method() TransferMethod    { return MethodP2P }
func (OtherRecipient) Method() TransferMethod  { return MethodOther }

func (r DirectRecipient) MemoText() string { return r.Memo }
func (r WireRecipient) MemoText() string   { return r.Memo }
func (r BankRecipient) MemoText() string   { return r.Memo }
func (r CardRecipient) MemoText() string   { return r.Memo }
func (r P2PRecipient) MemoText() string    { return r.Memo }
func (r OtherRecipient) MemoText() string  { return r.Memo }

func (DirectRecipient) isRecipientInfo() {}
func (WireRecipient) isRecipientInfo()   {}
func (BankRecipient) isRecipientInfo()   {}
func (CardRecipient) isRecipientInfo()   {}
func (P2PRecipient) isRecipientInfo()    {}
func (OtherRecipient) isRecipientInfo()  {}

// MaskedNumber renders the stored digits as xxxx-xxxx-xxxx-1234.
func (r CardRecipient) MaskedNumber() string {
	if r.Last4 == "" {
		return notAvailable
	}
	return "xxxx-xxxx-xxxx-" + r.Last4
}

// recipientWire is the stored JSON shape, discriminated by transferMethod.
type recipientWire struct {
	TransferMethod TransferMethod `json:"transferMethod"`
	Email          string         `json:"email,omitempty"`
	Username       string         `json:"username,omitempty"`
	SwiftCode      string         `json:"swiftCode,omitempty"`
	RoutingNumber  string         `json:"routingNumber,omitempty"`
	BankName       string         `json:"bankName,omitempty"`
	AccountNumber  string         `json:"accountNumber,omitempty"`
	AccountType    string         `json:"accountType,omitempty"`
	Country        string         `json:"country,omitempty"`
	CardNumber     string         `json:"cardNumber,omitempty"`
	CardholderName string         `json:"cardholderName,omitempty"`
	PhoneNumber    string         `json:"phoneNumber,omitempty"`
	Platform       string         `json:"platform,omitempty"`
	Label          string         `json:"method,omitempty"`
	Recipient      string         `json:"recipient,omitempty"`
	Memo           string         `json:"memo"`
}

// EncodeRecipientInfo marshals info with its transferMethod discriminator.
func EncodeRecipientInfo(info RecipientInfo) ([]byte, error) {
	w := recipientWire{TransferMethod: info.Method(), Memo: info.MemoText()}
	switch r := info.(type) {
	case DirectRecipient:
		w.Email, w.Username = r.Email, r.Username
	case WireRecipient:
		w.SwiftCode, w.BankName, w.AccountNumber, w.Country = r.SwiftCode, r.BankName, r.AccountNumber, r.Country
	case BankRecipient:
		w.RoutingNumber, w.AccountNumber, w.BankName, w.AccountType = r.RoutingNumber, r.AccountNumber, r.BankName, r.AccountType
	case CardRecipient:
		w.CardNumber, w.CardholderName = r.MaskedNumber(), r.CardholderName
	case P2PRecipient:
		w.PhoneNumber, w.Platform = r.PhoneNumber, r.Platform
	case OtherRecipient:
		w.Label, w.Recipient = r.Label, r.Recipient
	default:
		return nil, fmt.Errorf("unsupported recipient info %T", info)
	}
	return json.Marshal(w)
}

// DecodeRecipientInfo is the inverse of EncodeRecipientInfo.
func DecodeRecipientInfo(data []byte) (RecipientInfo, error) {
	var w recipientWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: recipient info: %v", ErrInvalidInput, err)
	}

	switch w.TransferMethod {
	case MethodDirect:
		return DirectRecipient{Email: w.Email, Username: w.Username, Memo: w.Memo}, nil
	case MethodWire:
		return WireRecipient{SwiftCode: w.SwiftCode, BankName: w.BankName, AccountNumber: w.AccountNumber, Country: w.Country, Memo: w.Memo}, nil
	case MethodBank:
		return BankRecipient{RoutingNumber: w.RoutingNumber, AccountNumber: w.AccountNumber, BankName: w.BankName, AccountType: w.AccountType, Memo: w.Memo}, nil
	case MethodCard:
		return CardRecipient{Last4: lastDigits(w.CardNumber, 4), CardholderName: w.CardholderName, Memo: w.Memo}, nil
	case MethodP2P:
		return P2PRecipient{PhoneNumber: w.PhoneNumber, Platform: w.Platform, Memo: w.Memo}, nil
	case MethodOther:
		return OtherRecipient{Label: w.Label, Recipient: w.Recipient, Memo: w.Memo}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transfer method %q", ErrInvalidInput, w.TransferMethod)
	}
}

// NewExternalRecipient builds the descriptor of a non-direct transfer from the
// request's free-form fields. Missing fields become "N/A".
func NewExternalRecipient(method TransferMethod, recipient, memo string, data map[string]any) (RecipientInfo, error) {
	switch method {
	case MethodWire:
		return WireRecipient{
			SwiftCode:     field(data, "swiftCode"),
			BankName:      field(data, "bankName"),
			AccountNumber: field(data, "accountNumber"),
			Country:       field(data, "country"),
			Memo:          memo,
		}, nil
	case MethodBank:
		return BankRecipient{
			RoutingNumber: field(data, "routingNumber"),
			AccountNumber: field(data, "accountNumber"),
			BankName:      field(data, "bankName"),
			AccountType:   field(data, "accountType"),
			Memo:          memo,
		}, nil
	case MethodCard:
		return CardRecipient{
			Last4:          lastDigits(rawField(data, "cardNumber"), 4),
			CardholderName: field(data, "cardholderName"),
			Memo:           memo,
		}, nil
	case MethodP2P:
		return P2PRecipient{
			PhoneNumber: field(data, "phoneNumber"),
			Platform:    field(data, "platform"),
			Memo:        memo,
		}, nil
	case MethodOther:
		label := rawField(data, "method")
		if label == "" {
			label = string(MethodOther)
		}
		if recipient == "" {
			recipient = notAvailable
		}
		return OtherRecipient{Label: label, Recipient: recipient, Memo: memo}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an external transfer method", ErrInvalidInput, method)
	}
}

func rawField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func field(data map[string]any, key string) string {
	if s := rawField(data, key); s != "" {
		return s
	}
	return notAvailable
}

// lastDigits returns up to n trailing digits of s.
func lastDigits(s string, n int) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

// Recipient carries a RecipientInfo through JSON and SQL. A nil Info is null.
type Recipient struct {
	Info RecipientInfo
}

func (r Recipient) MarshalJSON() ([]byte, error) {
	if r.Info == nil {
		return []byte("null"), nil
	}
	return EncodeRecipientInfo(r.Info)
}

// UnmarshalJSON accepts the discriminated object, null, or a bare string which
// is kept as the memo of an "other" descriptor.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		r.Info = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var note string
		if err := json.Unmarshal(data, &note); err != nil {
			return err
		}
		if note == "" {
			r.Info = nil
			return nil
		}
		r.Info = OtherRecipient{Label: string(MethodOther), Recipient: notAvailable, Memo: note}
		return nil
	}
	info, err := DecodeRecipientInfo(data)
	if err != nil {
		return err
	}
	r.Info = info
	return nil
}

func (r Recipient) Value() (driver.Value, error) {
	if r.Info == nil {
		return nil, nil
	}
	b, err := EncodeRecipientInfo(r.Info)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Recipient) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		r.Info = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Recipient", src)
	}
	info, err := DecodeRecipientInfo(data)
	if err != nil {
		return err
	}
	r.Info = info
	return nil
}
