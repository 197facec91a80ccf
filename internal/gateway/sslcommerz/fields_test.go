package sslcommerz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTextStripsHTMLAndSymbols(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "John Doe", "John Doe"},
		{"html tags", "<script>alert(1)</script>John", "alert1John"},
		{"disallowed symbols", "x$y;z'--", "xyz--"},
		{"email survives", "user@example.com", "user@example.com"},
		{"surrounding space", "  padded  ", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeText(tt.in))
		})
	}
}

func TestSanitizeAppliesDefaults(t *testing.T) {
	f := PaymentFields{
		TranID:      "SUB_U1_1",
		TotalAmount: -5,
	}.Sanitize()

	assert.Equal(t, float64(0), f.TotalAmount)
	assert.Equal(t, "BDT", f.Currency)
	assert.Equal(t, "general", f.ProductProfile)
	assert.Equal(t, "N/A", f.CusAdd1)
	assert.Equal(t, "Dhaka", f.CusCity)
	assert.Equal(t, "1000", f.CusPostcode)
	assert.Equal(t, "Bangladesh", f.CusCountry)
	assert.Equal(t, "NO", f.ShippingMethod)
	assert.Equal(t, 1, f.NumOfItem)
}

func TestSanitizeKeepsCallbackURLs(t *testing.T) {
	f := PaymentFields{
		SuccessURL: "https://api.example.com/api/v1/subscription/sslcommerz/success?x=1&y=2",
		CusName:    "<b>Evil</b> User",
	}.Sanitize()

	assert.Equal(t, "https://api.example.com/api/v1/subscription/sslcommerz/success?x=1&y=2", f.SuccessURL)
	assert.Equal(t, "Evil User", f.CusName)
}

func TestFormValuesEncoding(t *testing.T) {
	f := PaymentFields{
		TotalAmount: 250,
		Currency:    "BDT",
		TranID:      "SUB_U1_1",
		NumOfItem:   1,
	}

	v := f.formValues()
	assert.Equal(t, "250.00", v.Get("total_amount"))
	assert.Equal(t, "SUB_U1_1", v.Get("tran_id"))
	assert.Equal(t, "1", v.Get("num_of_item"))
}

func TestPassthroughRoundTrip(t *testing.T) {
	issued := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	p := Passthrough{
		UserID:         "user-1",
		PlanID:         "half_yearly",
		DurationMonths: 6,
		IssuedAt:       issued,
	}

	var f PaymentFields
	p.Apply(&f)

	assert.Equal(t, "user-1", f.ValueA)
	assert.Equal(t, "half_yearly", f.ValueB)
	assert.Equal(t, "6", f.ValueC)

	decoded := DecodePassthrough(f.ValueA, f.ValueB, f.ValueC, f.ValueD)
	assert.Equal(t, p.UserID, decoded.UserID)
	assert.Equal(t, p.PlanID, decoded.PlanID)
	assert.Equal(t, p.DurationMonths, decoded.DurationMonths)
	assert.True(t, decoded.IssuedAt.Equal(issued))
}

func TestDecodePassthroughMalformed(t *testing.T) {
	decoded := DecodePassthrough("user-1", "monthly", "not-a-number", "garbage")

	assert.Equal(t, "user-1", decoded.UserID)
	assert.Equal(t, 0, decoded.DurationMonths)
	assert.True(t, decoded.IssuedAt.IsZero())
}
