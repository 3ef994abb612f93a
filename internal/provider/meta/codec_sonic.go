//go:build sonic

package meta

import (
	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal
var jsonUnmarshal = sonic.Unmarshal
