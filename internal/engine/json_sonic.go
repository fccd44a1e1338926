//go:build sonic

package engine

import (
	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal
var jsonMarshalIndent = sonic.MarshalIndent
var jsonUnmarshal = sonic.Unmarshal
