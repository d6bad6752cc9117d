package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type joinPayload struct {
	MeetingID string `json:"meetingId" validate:"required,identifier"`
	UserID    string `json:"userId" validate:"required,identifier"`
	Size      int64  `json:"size" validate:"gte=0"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(joinPayload{MeetingID: "m1", UserID: "alice@example.com"}))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(joinPayload{MeetingID: "../etc", Size: -1})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "identifier", fields["meetingId"])
	require.Equal(t, "required", fields["userId"])
	require.Equal(t, "gte", fields["size"])
}

func TestIsIdentifier(t *testing.T) {
	require.True(t, IsIdentifier("meeting-2024_01.a"))
	require.False(t, IsIdentifier(""))
	require.False(t, IsIdentifier("a/b"))
	require.False(t, IsIdentifier("-leading"))
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("codec", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "libmp3lame", "aac":
			return true
		}
		return false
	}))

	type custom struct {
		Codec string `validate:"codec"`
	}

	require.NoError(t, ValidateStruct(custom{Codec: "aac"}))
	require.Error(t, ValidateStruct(custom{Codec: "flac"}))
}
