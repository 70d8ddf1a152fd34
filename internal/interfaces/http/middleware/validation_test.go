package middleware

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attributeBody struct {
	Attributes map[string]string `json:"attributes" binding:"required,min=1,dive,keys,attrkey,endkeys,max=8"`
}

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	v.SetTagName("binding")
	require.NoError(t, RegisterValidations(v))
	return v
}

func TestRegisterValidations_AttributeKeys(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name  string
		attrs map[string]string
		ok    bool
	}{
		{"custom key", map[string]string{"plan_tier": "gold"}, true},
		{"known reserved key", map[string]string{"$email": "a@b.c"}, true},
		{"unknown reserved key", map[string]string{"$nope": "x"}, false},
		{"blank key", map[string]string{" ": "x"}, false},
		{"value too long", map[string]string{"k": "123456789"}, false},
		{"empty", map[string]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(attributeBody{Attributes: tt.attrs})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRegisterValidations_CurrencyCode(t *testing.T) {
	v := newValidator(t)

	type priced struct {
		CurrencyCode string `json:"currency_code" binding:"omitempty,currency"`
	}
	for code, ok := range map[string]bool{
		"USD":  true,
		"usd":  true,
		"eUr":  true,
		"":     true,
		"usdx": false,
		"zzz":  false,
	} {
		err := v.Struct(priced{CurrencyCode: code})
		if ok {
			assert.NoError(t, err, code)
		} else {
			assert.Error(t, err, code)
		}
	}
}

func TestFormatValidationErrors(t *testing.T) {
	v := newValidator(t)
	err := v.Struct(attributeBody{Attributes: map[string]string{"$nope": "x"}})
	require.Error(t, err)

	resp := FormatValidationErrors(err, "req-1")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	require.Len(t, resp.Error.Details, 1)
	assert.Contains(t, resp.Error.Details[0].Field, "attributes")
	assert.Contains(t, resp.Error.Details[0].Message, "reserved keys")
}
