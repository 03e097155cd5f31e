package withdraw

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Request is a withdrawal as the caller sent it; nothing is validated yet.
type Request struct {
	To     string
	Amount string
}

// ParseRequest reads {to|toAddress, amountETH|amount} from a JSON body.
// Amounts may be numbers or strings; empty, false, null and zero values fall through to the next key.
func ParseRequest(body []byte) Request {
	if !gjson.ValidBytes(body) {
		return Request{}
	}
	r := gjson.ParseBytes(body)
	return Request{
		To:     firstSet(r.Get("to"), r.Get("toAddress")),
		Amount: firstSet(r.Get("amountETH"), r.Get("amount")),
	}
}

func firstSet(values ...gjson.Result) string {
	for _, v := range values {
		switch v.Type {
		case gjson.Null, gjson.False:
			continue
		case gjson.Number:
			if v.Num == 0 {
				continue
			}
			return v.Raw
		case gjson.String:
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		case gjson.True:
			return v.Raw
		default:
			if v.Exists() {
				return v.Raw
			}
		}
	}
	return ""
}
