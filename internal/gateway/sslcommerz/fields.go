package sslcommerz

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	disallowedPattern = regexp.MustCompile(`[^\w\s@.-]`)
)

// sanitizeText strips HTML tags and any characters outside word characters,
// whitespace, @, . and - to satisfy the gateway's content restrictions.
func sanitizeText(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = disallowedPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// PaymentFields is the full field set the gateway's session-init endpoint
// accepts. Store credentials are not part of it; the client injects them.
type PaymentFields struct {
	TotalAmount     float64
	Currency        string
	TranID          string
	SuccessURL      string
	FailURL         string
	CancelURL       string
	IPNURL          string
	ProductName     string
	ProductCategory string
	ProductProfile  string
	CusName         string
	CusEmail        string
	CusAdd1         string
	CusCity         string
	CusPostcode     string
	CusCountry      string
	CusPhone        string
	ShippingMethod  string
	NumOfItem       int
	ValueA          string
	ValueB          string
	ValueC          string
	ValueD          string
}

// Sanitize returns a copy with free-text fields cleaned, numeric fields
// coerced with zero fallbacks, and defaults applied. The callback URLs are
// server-controlled constants and pass through verbatim.
func (f PaymentFields) Sanitize() PaymentFields {
	out := f

	if out.TotalAmount < 0 {
		out.TotalAmount = 0
	}
	if out.Currency == "" {
		out.Currency = "BDT"
	}
	if out.ProductProfile == "" {
		out.ProductProfile = "general"
	}
	if out.CusAdd1 == "" {
		out.CusAdd1 = "N/A"
	}
	if out.CusCity == "" {
		out.CusCity = "Dhaka"
	}
	if out.CusPostcode == "" {
		out.CusPostcode = "1000"
	}
	if out.CusCountry == "" {
		out.CusCountry = "Bangladesh"
	}
	if out.ShippingMethod == "" {
		out.ShippingMethod = "NO"
	}
	if out.NumOfItem <= 0 {
		out.NumOfItem = 1
	}

	out.ProductName = sanitizeText(out.ProductName)
	out.ProductCategory = sanitizeText(out.ProductCategory)
	out.CusName = sanitizeText(out.CusName)
	out.CusEmail = sanitizeText(out.CusEmail)
	out.CusAdd1 = sanitizeText(out.CusAdd1)
	out.CusCity = sanitizeText(out.CusCity)
	out.CusPostcode = sanitizeText(out.CusPostcode)
	out.CusPhone = sanitizeText(out.CusPhone)

	return out
}

// formValues renders the fields in the gateway's form encoding
func (f PaymentFields) formValues() url.Values {
	v := url.Values{}
	v.Set("total_amount", strconv.FormatFloat(f.TotalAmount, 'f', 2, 64))
	v.Set("currency", f.Currency)
	v.Set("tran_id", f.TranID)
	v.Set("success_url", f.SuccessURL)
	v.Set("fail_url", f.FailURL)
	v.Set("cancel_url", f.CancelURL)
	v.Set("ipn_url", f.IPNURL)
	v.Set("product_name", f.ProductName)
	v.Set("product_category", f.ProductCategory)
	v.Set("product_profile", f.ProductProfile)
	v.Set("cus_name", f.CusName)
	v.Set("cus_email", f.CusEmail)
	v.Set("cus_add1", f.CusAdd1)
	v.Set("cus_city", f.CusCity)
	v.Set("cus_postcode", f.CusPostcode)
	v.Set("cus_country", f.CusCountry)
	v.Set("cus_phone", f.CusPhone)
	v.Set("shipping_method", f.ShippingMethod)
	v.Set("num_of_item", strconv.Itoa(f.NumOfItem))
	v.Set("value_a", f.ValueA)
	v.Set("value_b", f.ValueB)
	v.Set("value_c", f.ValueC)
	v.Set("value_d", f.ValueD)
	return v
}

// Passthrough is the typed view of the gateway's opaque value_a..value_d
// slots. It round-trips unmodified through the gateway and is the only
// channel telling the IPN webhook which user and plan a transaction belongs
// to. Serialization to the four string slots happens only at this boundary.
type Passthrough struct {
	UserID         string
	PlanID         string
	DurationMonths int
	IssuedAt       time.Time
}

// Apply writes the passthrough data into the form's value slots
func (p Passthrough) Apply(f *PaymentFields) {
	f.ValueA = p.UserID
	f.ValueB = p.PlanID
	f.ValueC = strconv.Itoa(p.DurationMonths)
	f.ValueD = strconv.FormatInt(p.IssuedAt.UnixMilli(), 10)
}

// DecodePassthrough reads the typed passthrough data back out of the four
// value slots. Malformed numeric slots decode to zero values; callers treat
// the result as advisory context, never as payment authority.
func DecodePassthrough(valueA, valueB, valueC, valueD string) Passthrough {
	p := Passthrough{
		UserID: valueA,
		PlanID: valueB,
	}
	if months, err := strconv.Atoi(valueC); err == nil {
		p.DurationMonths = months
	}
	if ms, err := strconv.ParseInt(valueD, 10, 64); err == nil && ms > 0 {
		p.IssuedAt = time.UnixMilli(ms)
	}
	return p
}

// String implements fmt.Stringer for request logging
func (p Passthrough) String() string {
	return fmt.Sprintf("user=%s plan=%s months=%d issued=%s", p.UserID, p.PlanID, p.DurationMonths, p.IssuedAt.Format(time.RFC3339))
}
