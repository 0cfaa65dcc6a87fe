package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSetList(t *testing.T) {
	got, err := ReadSetList(strings.NewReader("\ufeffName,Set #,RRP\nFalcon,75192,649.99\nHogwarts, 71043-1 ,399.99\nDup,75192-1,1\nBlank,,0\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"75192-1", "71043-1"}, got)

	got, err = ReadSetList(strings.NewReader("set_number\n10497\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10497-1"}, got)

	_, err = ReadSetList(strings.NewReader("name,price\nx,1\n"))
	assert.Error(t, err)
	_, err = ReadSetList(strings.NewReader(""))
	assert.Error(t, err)
}
