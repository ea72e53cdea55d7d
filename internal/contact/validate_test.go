package contact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() Message {
	return Message{
		Title:          "Late check-in",
		FirstName:      "Maria",
		LastName:       "Ivanova",
		Email:          "maria@example.com",
		Phone:          "(088) 123-4567",
		Body:           "Can we arrive after midnight on Friday?",
		AgreedToPolicy: true,
	}
}

func TestNormalize(t *testing.T) {
	m := Normalize(validMessage())
	assert.Equal(t, "0881234567", m.Phone)
	assert.NoError(t, Validate(m))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
		field  string
	}{
		{"title missing", func(m *Message) { m.Title = "" }, "title"},
		{"title short", func(m *Message) { m.Title = "Hi" }, "title"},
		{"title long", func(m *Message) { m.Title = strings.Repeat("a", 61) }, "title"},
		{"first name digits", func(m *Message) { m.FirstName = "M4ria" }, "first_name"},
		{"first name short", func(m *Message) { m.FirstName = "M" }, "first_name"},
		{"last name accents", func(m *Message) { m.LastName = "Müller" }, "last_name"},
		{"email no domain", func(m *Message) { m.Email = "maria@" }, "email"},
		{"email spaces", func(m *Message) { m.Email = "ma ria@example.com" }, "email"},
		{"phone nine digits", func(m *Message) { m.Phone = "088123456" }, "phone"},
		{"phone eleven digits", func(m *Message) { m.Phone = "08812345678" }, "phone"},
		{"message short", func(m *Message) { m.Body = "Hello" }, "message"},
		{"message long", func(m *Message) { m.Body = strings.Repeat("x", 501) }, "message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(&m)

			err := Validate(Normalize(m))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMessage)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	m := Normalize(validMessage())
	m.Title = "abc"
	m.FirstName = "Al"
	m.Body = strings.Repeat("x", 500)
	assert.NoError(t, Validate(m))

	m.Title = strings.Repeat("a", 60)
	m.Body = strings.Repeat("x", 10)
	assert.NoError(t, Validate(m))
}

func TestValidate_ReportsEveryField(t *testing.T) {
	err := Validate(Message{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"title", "first_name", "last_name", "email", "phone", "message"}, fields)
}

func TestValidate_Reasons(t *testing.T) {
	m := Normalize(validMessage())
	m.FirstName = "M4ria"
	m.Email = "maria@"
	m.Phone = "088123456"
	m.Body = "Hello"

	var verr *ValidationError
	require.ErrorAs(t, Validate(m), &verr)
	assert.Equal(t, []FieldError{
		{Field: "first_name", Reason: "letters only"},
		{Field: "email", Reason: "not a valid address"},
		{Field: "phone", Reason: "must be exactly 10 digits"},
		{Field: "message", Reason: "must be at least 10 characters"},
	}, verr.Fields)
}

func TestValidate_CountsCharactersNotBytes(t *testing.T) {
	m := Normalize(validMessage())
	m.Title = strings.Repeat("é", 60)
	assert.NoError(t, Validate(m))

	m.Title = "Üb"
	assert.Error(t, Validate(m))
}
