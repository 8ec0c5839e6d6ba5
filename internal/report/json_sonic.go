//go:build sonic

package report

import (
	"io"

	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal

func jsonEncode(w io.Writer, v any) error {
	return sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
