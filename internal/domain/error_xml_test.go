package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleErrorXML = `<error host="localhost" type="System.ApplicationException" message="Error in the application." detail="System.ApplicationException: Error in the application." time="2013-07-13T06:16:03.9957581Z" />`

func TestDecodeErrorXML_Sample(t *testing.T) {
	e, err := DecodeErrorXMLString(sampleErrorXML)
	require.NoError(t, err)

	assert.Equal(t, "localhost", e.HostName)
	assert.Equal(t, "System.ApplicationException", e.Type)
	assert.Equal(t, "Error in the application.", e.Message)
	assert.Equal(t, "System.ApplicationException: Error in the application.", e.Detail)
	assert.Equal(t, time.Date(2013, 7, 13, 6, 16, 3, 995758100, time.UTC), e.Time)
	assert.Empty(t, e.User)
	assert.Zero(t, e.StatusCode)
	assert.Nil(t, e.ServerVariables)
}

func TestErrorXML_RoundTrip(t *testing.T) {
	original := &Error{
		ApplicationName: "billing",
		HostName:        "web-01",
		Type:            "*url.Error",
		Source:          "checkout",
		Message:         `Get "http://x": dial tcp <refused> & more`,
		Detail:          "*url.Error: boom\ngoroutine 1 [running]:\nmain.main()",
		User:            "alice",
		Time:            time.Date(2024, 2, 29, 23, 59, 59, 123456789, time.UTC),
		StatusCode:      502,
		ServerVariables: NameValues{{Name: "HTTP_HOST", Value: "example.com"}, {Name: "REMOTE_ADDR", Value: "10.0.0.1"}},
		QueryString:     NameValues{{Name: "q", Value: "a"}, {Name: "q", Value: "b"}},
		Form:            NameValues{{Name: "amount", Value: "12.50"}},
		Cookies:         NameValues{{Name: "session", Value: "xyz"}},
	}

	data, err := EncodeErrorXML(original)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<error "))

	decoded, err := DecodeErrorXML(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestErrorXML_RoundTripCapturedError(t *testing.T) {
	original := NewError(errors.New("disk full"), WithUser("bob"))

	data, err := EncodeErrorXML(original)
	require.NoError(t, err)

	decoded, err := DecodeErrorXML(data)
	require.NoError(t, err)

	assert.Equal(t, original.HostName, decoded.HostName)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Message, decoded.Message)
	assert.Equal(t, original.Detail, decoded.Detail)
	assert.True(t, original.Time.Equal(decoded.Time), "time %v != %v", original.Time, decoded.Time)
	assert.Equal(t, "bob", decoded.User)
}

func TestDecodeErrorXML_Invalid(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{name: "empty", xml: ""},
		{name: "not xml", xml: "{\"Id\":\"1\"}"},
		{name: "wrong root", xml: `<exception host="h" type="t" />`},
		{name: "bad time", xml: `<error host="h" type="t" message="m" detail="d" time="yesterday" />`},
		{name: "bad status code", xml: `<error host="h" type="t" message="m" detail="d" time="2013-07-13T06:16:03Z" statusCode="abc" />`},
		{name: "truncated", xml: `<error host="h" type="t"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeErrorXMLString(tt.xml)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidErrorXML)
		})
	}
}

func TestEncodeErrorXML_Nil(t *testing.T) {
	_, err := EncodeErrorXML(nil)
	assert.ErrorIs(t, err, ErrInvalidErrorXML)
}

func TestEncodeErrorXML_OmitsOptionalFields(t *testing.T) {
	data, err := EncodeErrorXML(&Error{HostName: "h", Type: "t", Message: "m", Detail: "d"})
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "user=")
	assert.NotContains(t, s, "statusCode=")
	assert.NotContains(t, s, "serverVariables")
	assert.Contains(t, s, `type="t"`)
}
