package loan

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Details is the open customer profile. Keys arrive incrementally from
// extraction and CRM lookups; a populated key is never cleared.
type Details map[string]any

// Canonical customer keys. Extraction may also use the aliases in
// customerAliases; unknown keys are kept as-is.
const (
	KeyCustomerID     = "customer_id"
	KeyName           = "name"
	KeyPhone          = "phone"
	KeyEmail          = "email"
	KeyAddress        = "address"
	KeyDateOfBirth    = "date_of_birth"
	KeyPAN            = "pan"
	KeyAadhaar        = "aadhaar_number"
	KeyEmploymentType = "employment_type"
	KeyEmployer       = "company_or_business_name"
	KeyMonthlyIncome  = "monthly_income"
	KeyAnnualIncome   = "annual_income"
	KeyCreditScore    = "credit_score"
	KeyAccountNumber  = "account_number"
	KeyIFSC           = "ifsc_code"
	KeyBankName       = "bank_name"
	KeyExistingEMIs   = "existing_loans_or_emis"
)

// CustomerKeys is the documented set of recognised customer detail keys.
var CustomerKeys = []string{
	KeyCustomerID, KeyName, KeyPhone, KeyEmail, KeyAddress, "permanent_address",
	KeyDateOfBirth, KeyPAN, KeyAadhaar, KeyEmploymentType, KeyEmployer,
	KeyMonthlyIncome, KeyAnnualIncome, KeyCreditScore, KeyAccountNumber,
	KeyIFSC, KeyBankName, KeyExistingEMIs,
}

var customerAliases = map[string]string{
	"full_name":       KeyName,
	"customer_name":   KeyName,
	"mobile_number":   KeyPhone,
	"phone_number":    KeyPhone,
	"mobile":          KeyPhone,
	"email_id":        KeyEmail,
	"current_address": KeyAddress,
	"pan_number":      KeyPAN,
	"pan_card":        KeyPAN,
	"ifsc":            KeyIFSC,
	"bank":            KeyBankName,
	"salary":          KeyMonthlyIncome,
	"monthly_salary":  KeyMonthlyIncome,
	"company_name":    KeyEmployer,
	"employer":        KeyEmployer,
}

// Loan entity keys accepted from extraction.
var (
	amountKeys  = map[string]bool{"loan_amount": true, "amount": true, "requested_amount": true}
	tenureKeys  = map[string]bool{"loan_tenure": true, "tenure": true, "tenure_months": true}
	purposeKeys = map[string]bool{"loan_purpose": true, "purpose": true}
	typeKeys    = map[string]bool{"loan_type": true}
)

// CanonicalKey maps an extraction key onto the stored key name.
func CanonicalKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := customerAliases[k]; ok {
		return alias
	}
	return k
}

// Has reports whether key holds a non-empty value.
func (d Details) Has(key string) bool {
	v, ok := d[key]
	return ok && !isEmptyValue(v)
}

// String returns the value for key rendered as text.
func (d Details) String(key string) string {
	v, ok := d[key]
	if !ok || isEmptyValue(v) {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Float returns a numeric value for key, accepting numbers and numeric text.
func (d Details) Float(key string) (float64, bool) {
	v, ok := d[key]
	if !ok || isEmptyValue(v) {
		return 0, false
	}
	return ParseAmount(v)
}

// Fill stores value under key unless the key is already populated or the
// value is empty. It reports whether the value was stored.
func (d Details) Fill(key string, value any) bool {
	if isEmptyValue(value) || d.Has(key) {
		return false
	}
	d[key] = value
	return true
}

// Clone returns a shallow copy of the mapping.
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ApplyEntities merges extracted entities into the state and returns the
// keys that changed. Customer details are fill-once; loan amount, tenure and
// purpose may still be revised while the customer is exploring offers.
func ApplyEntities(s *State, entities map[string]any) []string {
	var applied []string
	revisable := s.Stage.Index() <= StageSalesExploration.Index()
	for rawKey, value := range entities {
		if isEmptyValue(value) {
			continue
		}
		key := CanonicalKey(rawKey)
		switch {
		case amountKeys[key]:
			amount, ok := ParseAmount(value)
			if !ok || amount <= 0 {
				continue
			}
			if s.LoanDetails.Amount == 0 || (revisable && s.LoanDetails.Amount != amount) {
				s.LoanDetails.Amount = amount
				applied = append(applied, "loan_amount")
			}
		case tenureKeys[key]:
			months, ok := ParseTenure(value)
			if !ok || months <= 0 {
				continue
			}
			if s.LoanDetails.Tenure == 0 || (revisable && s.LoanDetails.Tenure != months) {
				s.LoanDetails.Tenure = months
				applied = append(applied, "loan_tenure")
			}
		case purposeKeys[key]:
			purpose := strings.TrimSpace(fmt.Sprint(value))
			if s.LoanDetails.Purpose == "" || (revisable && s.LoanDetails.Purpose != purpose) {
				s.LoanDetails.Purpose = purpose
				applied = append(applied, "loan_purpose")
			}
		case typeKeys[key]:
			if s.LoanDetails.LoanType == "" {
				s.LoanDetails.LoanType = strings.TrimSpace(fmt.Sprint(value))
				applied = append(applied, "loan_type")
			}
		case key == KeyCustomerID:
			if s.CustomerDetails.Fill(key, strings.ToUpper(strings.TrimSpace(fmt.Sprint(value)))) {
				applied = append(applied, key)
			}
		default:
			if s.CustomerDetails.Fill(key, normalizeValue(value)) {
				applied = append(applied, key)
			}
		}
	}
	return applied
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "" || s == "null" || s == "none" || s == "n/a" || s == "unknown"
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case float64:
		return math.IsNaN(t)
	}
	return false
}

var numberPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// ParseAmount understands plain numbers and rupee amounts written as
// "5 lakh", "Rs. 5,00,000", "1.2 crore" or "750k".
func ParseAmount(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseAmountText(t)
	}
	return 0, false
}

func parseAmountText(raw string) (float64, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.ReplaceAll(text, ",", "")
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	rest := strings.TrimSpace(text[strings.Index(text, match)+len(match):])
	switch {
	case strings.HasPrefix(rest, "crore"), strings.HasPrefix(rest, "cr"):
		value *= 1e7
	case strings.HasPrefix(rest, "lakh"), strings.HasPrefix(rest, "lac"), rest == "l":
		value *= 1e5
	case strings.HasPrefix(rest, "k"), strings.HasPrefix(rest, "thousand"):
		value *= 1e3
	}
	return value, true
}

// ParseTenure returns a loan tenure in months. Text mentioning years is
// converted; bare numbers are months.
func ParseTenure(v any) (int, bool) {
	if s, ok := v.(string); ok {
		text := strings.ToLower(s)
		match := numberPattern.FindString(text)
		if match == "" {
			return 0, false
		}
		value, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return 0, false
		}
		if strings.Contains(text, "year") || strings.Contains(text, "yr") {
			value *= 12
		}
		return int(math.Round(value)), true
	}
	f, ok := ParseAmount(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}
