//go:build !sonic

package meta

import (
	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal
var jsonUnmarshal = json.Unmarshal
