//go:build !sonic

package report

import (
	"io"

	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
