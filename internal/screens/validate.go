package screens

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

// ErrUnknown is returned for a screen or action name that does not exist.
var ErrUnknown = errors.New("unknown screen or action")

var (
	accountNumberPattern = regexp.MustCompile(`^[0-9]{9,18}$`)
	ifscPattern          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	mobilePattern        = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	ipPattern            = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}$`)
)

type checks map[string]string

func (c checks) required(in Input, key, label string) bool {
	if in.Text(key) == "" {
		c[key] = label + " is required."
		return false
	}
	return true
}

func (c checks) match(in Input, key string, re *regexp.Regexp, msg string) {
	if v := in.Text(key); v != "" && !re.MatchString(v) {
		c[key] = msg
	}
}

func (c checks) positiveAmount(in Input, key string) {
	v := in.Text(key)
	if v == "" {
		return
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		c[key] = "Enter an amount greater than zero."
	}
}

func validateBankAccountCreate(in Input) map[string]string {
	c := checks{}
	c.required(in, "account_holder_name", "Account holder name")
	c.required(in, "bank_name", "Bank name")
	if c.required(in, "account_number", "Account number") {
		c.match(in, "account_number", accountNumberPattern, "Account number must be 9 to 18 digits.")
	}
	if c.required(in, "ifsc_code", "IFSC code") {
		c.match(in, "ifsc_code", ifscPattern, "Enter a valid IFSC code, e.g. SBIN0001234.")
	}
	return c
}

func validateBankAccountUpdate(in Input) map[string]string {
	c := checks{}
	c.match(in, "account_number", accountNumberPattern, "Account number must be 9 to 18 digits.")
	c.match(in, "ifsc_code", ifscPattern, "Enter a valid IFSC code, e.g. SBIN0001234.")
	for _, key := range []string{"account_holder_name", "bank_name"} {
		if in.Has(key) && in.Text(key) == "" {
			c[key] = "This field cannot be blank."
		}
	}
	return c
}

func validateReject(in Input) map[string]string {
	c := checks{}
	c.required(in, "remark", "A remark")
	return c
}

func validateFundRequestCreate(in Input) map[string]string {
	c := checks{}
	if c.required(in, "amount", "Amount") {
		c.positiveAmount(in, "amount")
	}
	c.required(in, "payment_mode", "Payment mode")
	c.required(in, "utr_number", "UTR number")
	return c
}

func validateCredentialCreate(in Input) map[string]string {
	c := checks{}
	c.required(in, "name", "Name")
	c.match(in, "whitelisted_ip", ipPattern, "Enter a valid IPv4 address.")
	c.match(in, "callback_mobile", mobilePattern, "Enter a valid 10 digit mobile number.")
	return c
}
