// Package export renders sample sequences as downloadable plain-text and
// delimited-record documents. Both renderings are total functions over any
// sequence including the empty one.
package export

import (
	"fmt"
	"strconv"
	"strings"

	"qrng-lab/internal/sampling"
)

// Text renders the sequence as one decimal value per line. An empty sequence
// yields an empty string.
func Text(sequence sampling.Sequence) string {
	if len(sequence) == 0 {
		return ""
	}

	var b strings.Builder
	for i, value := range sequence {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(value))
	}
	return b.String()
}

// CSV renders the sequence as delimited records with a zero-based index
// column. The first line is always the header "index,value"; an empty
// sequence yields the header alone.
func CSV(sequence sampling.Sequence) string {
	var b strings.Builder
	b.WriteString("index,value")
	for i, value := range sequence {
		b.WriteByte('\n')
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(value))
	}
	return b.String()
}

// FileName builds the download file name for an export of the given run
// parameters, e.g. "qrng_4qubits_1000samples.csv".
func FileName(bitWidth, samples int, ext string) string {
	return fmt.Sprintf("qrng_%dqubits_%dsamples.%s", bitWidth, samples, ext)
}
