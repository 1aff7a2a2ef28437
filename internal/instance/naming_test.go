package instance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input  string
		errMsg string
	}{
		{input: "default"},
		{input: "d7-upgrade"},
		{input: "a"},
		{input: strings.Repeat("a", MaxNameLength)},
		{input: "", errMsg: "cannot be empty"},
		{input: "D7", errMsg: "must be lowercase"},
		{input: "-d7", errMsg: "not at start/end"},
		{input: "d7-", errMsg: "not at start/end"},
		{input: "d7_upgrade", errMsg: "must be lowercase alphanumeric"},
		{input: "d7:upgrade", errMsg: "must be lowercase alphanumeric"},
		{input: strings.Repeat("a", MaxNameLength+1), errMsg: "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
