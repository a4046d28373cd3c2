// Package all registers every challenge implementation.
package all

import (
	_ "github.com/uvensys/miaoeyes/lib/challenge/captcha"
	_ "github.com/uvensys/miaoeyes/lib/challenge/invisible"
	_ "github.com/uvensys/miaoeyes/lib/challenge/proofofwork"
)
