package export

import (
	"encoding/csv"
	"strings"
	"testing"

	"qrng-lab/internal/sampling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	assert.Equal(t, "5\n0\n12", Text(sampling.Sequence{5, 0, 12}))
	assert.Equal(t, "7", Text(sampling.Sequence{7}))
	assert.Equal(t, "", Text(sampling.Sequence{}))
	assert.Equal(t, "", Text(nil))
}

func TestCSVHeaderAlwaysFirst(t *testing.T) {
	assert.Equal(t, "index,value", CSV(nil))
	assert.Equal(t, "index,value\n0,9", CSV(sampling.Sequence{9}))
	assert.Equal(t, "index,value\n0,3\n1,1\n2,4", CSV(sampling.Sequence{3, 1, 4}))
}

func TestCSVParsesBack(t *testing.T) {
	sequence := sampling.Sequence{15, 0, 7, 7, 2}

	records, err := csv.NewReader(strings.NewReader(CSV(sequence))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(sequence)+1)

	assert.Equal(t, []string{"index", "value"}, records[0])
	assert.Equal(t, []string{"3", "7"}, records[4])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "qrng_4qubits_1000samples.csv", FileName(4, 1000, "csv"))
	assert.Equal(t, "qrng_8qubits_500samples.txt", FileName(8, 500, "txt"))
}
