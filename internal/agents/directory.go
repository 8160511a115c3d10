// Package agents holds the business rules the conversation driver invokes
// at each stage: sales, verification and underwriting. Each rule reads and
// writes the conversation state and looks customers up in a Directory.
package agents

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

//go:embed data/*.json
var fixtures embed.FS

type ExistingLoan struct {
	Type            string  `json:"type"`
	Outstanding     float64 `json:"outstanding"`
	EMI             float64 `json:"emi"`
	TenureRemaining int     `json:"tenure_remaining"`
}

// Customer is a CRM record.
type Customer struct {
	ID               string         `json:"customer_id"`
	Name             string         `json:"name"`
	Age              int            `json:"age"`
	City             string         `json:"city"`
	Phone            string         `json:"phone"`
	Email            string         `json:"email"`
	Address          string         `json:"address"`
	PAN              string         `json:"pan"`
	Occupation       string         `json:"occupation"`
	Employer         string         `json:"employer"`
	EmploymentType   string         `json:"employment_type"`
	MonthlyIncome    float64        `json:"monthly_income"`
	ExistingLoans    []ExistingLoan `json:"existing_loans"`
	AccountNumber    string         `json:"account_number"`
	CreditScore      int            `json:"credit_score"`
	PreApprovedLimit float64        `json:"pre_approved_limit"`
}

// MonthlyObligations sums the EMIs of the customer's running loans.
func (c Customer) MonthlyObligations() float64 {
	var total float64
	for _, l := range c.ExistingLoans {
		total += l.EMI
	}
	return total
}

type Eligibility struct {
	MinAge         int     `json:"min_age"`
	MaxAge         int     `json:"max_age"`
	MinIncome      float64 `json:"min_income"`
	MinCreditScore int     `json:"min_credit_score"`
	EmploymentType string  `json:"employment_type,omitempty"`
}

// Product is an entry in the offer catalog.
type Product struct {
	ID                   string      `json:"product_id"`
	Name                 string      `json:"name"`
	MinAmount            float64     `json:"min_amount"`
	MaxAmount            float64     `json:"max_amount"`
	MinTenure            int         `json:"min_tenure"`
	MaxTenure            int         `json:"max_tenure"`
	BaseInterestRate     float64     `json:"base_interest_rate"`
	ProcessingFeePercent float64     `json:"processing_fee_percent"`
	ProcessingFeeCap     float64     `json:"processing_fee_cap"`
	Eligibility          Eligibility `json:"eligibility"`
}

func (p Product) fee(amount float64) float64 {
	return round2(math.Min(amount*p.ProcessingFeePercent/100, p.ProcessingFeeCap))
}

func (p Product) covers(amount float64, tenure int) bool {
	return amount >= p.MinAmount && amount <= p.MaxAmount &&
		tenure >= p.MinTenure && tenure <= p.MaxTenure
}

func (p Product) eligible(c Customer) bool {
	e := p.Eligibility
	if c.Age < e.MinAge || (e.MaxAge > 0 && c.Age > e.MaxAge) {
		return false
	}
	if c.MonthlyIncome < e.MinIncome || c.CreditScore < e.MinCreditScore {
		return false
	}
	return e.EmploymentType == "" || strings.EqualFold(e.EmploymentType, c.EmploymentType)
}

// CreditReport is the credit bureau view of a customer.
type CreditReport struct {
	CustomerID         string
	Score              int
	Band               string
	MonthlyObligations float64
	PreApprovedLimit   float64
}

// Directory answers CRM, credit bureau and offer catalog lookups.
type Directory struct {
	customers []Customer
	byID      map[string]Customer
	byPhone   map[string]Customer
	byPAN     map[string]Customer
	products  []Product
}

func NewDirectory(customers []Customer, products []Product) *Directory {
	d := &Directory{
		customers: customers,
		byID:      make(map[string]Customer, len(customers)),
		byPhone:   make(map[string]Customer, len(customers)),
		byPAN:     make(map[string]Customer, len(customers)),
		products:  products,
	}
	for _, c := range customers {
		d.byID[strings.ToUpper(c.ID)] = c
		if c.Phone != "" {
			d.byPhone[normalizePhone(c.Phone)] = c
		}
		if c.PAN != "" {
			d.byPAN[strings.ToUpper(c.PAN)] = c
		}
	}
	return d
}

// LoadDirectory builds a Directory from the embedded mock CRM and offer
// catalog.
func LoadDirectory() (*Directory, error) {
	var customers []Customer
	if err := readFixture("data/customers.json", &customers); err != nil {
		return nil, err
	}
	var products []Product
	if err := readFixture("data/products.json", &products); err != nil {
		return nil, err
	}
	return NewDirectory(customers, products), nil
}

func readFixture(name string, v any) error {
	data, err := fixtures.ReadFile(name)
	if err != nil {
		return fmt.Errorf("agents: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("agents: decode %s: %w", name, err)
	}
	return nil
}

func (d *Directory) Customer(id string) (Customer, bool) {
	c, ok := d.byID[strings.ToUpper(strings.TrimSpace(id))]
	return c, ok
}

func (d *Directory) CustomerByPhone(phone string) (Customer, bool) {
	c, ok := d.byPhone[normalizePhone(phone)]
	return c, ok
}

func (d *Directory) CustomerByPAN(pan string) (Customer, bool) {
	c, ok := d.byPAN[strings.ToUpper(strings.TrimSpace(pan))]
	return c, ok
}

func (d *Directory) Products() []Product {
	return append([]Product(nil), d.products...)
}

func (d *Directory) CreditReport(customerID string) (CreditReport, bool) {
	c, ok := d.Customer(customerID)
	if !ok {
		return CreditReport{}, false
	}
	return CreditReport{
		CustomerID:         c.ID,
		Score:              c.CreditScore,
		Band:               ScoreBand(c.CreditScore),
		MonthlyObligations: c.MonthlyObligations(),
		PreApprovedLimit:   c.PreApprovedLimit,
	}, true
}

// Offers prices every catalog product the customer is eligible for. Rates
// move with the credit score and the existing debt-to-income ratio.
func (d *Directory) Offers(customerID string, amount float64, tenure int) []loan.Offer {
	c, ok := d.Customer(customerID)
	if !ok || amount <= 0 || tenure <= 0 {
		return nil
	}
	adjust := scoreAdjustment(c.CreditScore)
	if c.MonthlyIncome > 0 {
		adjust += dtiAdjustment(c.MonthlyObligations() / c.MonthlyIncome)
	}

	var offers []loan.Offer
	for _, p := range d.products {
		if !p.eligible(c) || !p.covers(amount, tenure) {
			continue
		}
		offers = append(offers, price(p, c.ID, amount, tenure, p.BaseInterestRate+adjust, amount <= c.PreApprovedLimit))
	}
	return offers
}

// StandardOffer prices the first product covering the request at its base
// rate, for customers the catalog has no personalised offer for.
func (d *Directory) StandardOffer(amount float64, tenure int) (loan.Offer, bool) {
	for _, p := range d.products {
		if p.covers(amount, tenure) {
			return price(p, "", amount, tenure, p.BaseInterestRate, false), true
		}
	}
	return loan.Offer{}, false
}

func price(p Product, customerID string, amount float64, tenure int, rate float64, preApproved bool) loan.Offer {
	emi := EMI(amount, rate, tenure)
	total := emi * float64(tenure)
	id := "OFF-" + p.ID
	if customerID != "" {
		id = fmt.Sprintf("OFF-%s-%s", customerID, p.ID)
	}
	return loan.Offer{
		ID:            id,
		ProductID:     p.ID,
		ProductName:   p.Name,
		Amount:        amount,
		Tenure:        tenure,
		InterestRate:  round2(rate),
		EMI:           emi,
		ProcessingFee: p.fee(amount),
		TotalInterest: round2(total - amount),
		TotalPayment:  round2(total),
		PreApproved:   preApproved,
	}
}

func scoreAdjustment(score int) float64 {
	switch {
	case score >= 800:
		return -0.5
	case score >= 750:
		return -0.25
	case score < 720:
		return 0.5
	default:
		return 0
	}
}

func dtiAdjustment(ratio float64) float64 {
	switch {
	case ratio <= 0.2:
		return -0.25
	case ratio >= 0.4:
		return 0.5
	default:
		return 0
	}
}

// ScoreBand names a credit score range.
func ScoreBand(score int) string {
	switch {
	case score >= 800:
		return "Excellent"
	case score >= 750:
		return "Very Good"
	case score >= 700:
		return "Good"
	case score >= 650:
		return "Fair"
	default:
		return "Poor"
	}
}

// EMI is the equated monthly instalment for principal at annualRate
// percent over months, rounded to paise.
func EMI(principal, annualRate float64, months int) float64 {
	if principal <= 0 || months <= 0 {
		return 0
	}
	r := annualRate / 1200
	if r == 0 {
		return round2(principal / float64(months))
	}
	f := math.Pow(1+r, float64(months))
	return round2(principal * r * f / (f - 1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return "91" + digits
	}
	return digits
}
