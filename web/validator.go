package web

import (
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/uvensys/miaoeyes"
)

// validatorScript asks the gateway whether the visitor's address passed a
// challenge and sends it to the challenge page otherwise. The page it came
// from travels along in originalUrl.
const validatorScript = `
(function () {
  "use strict";
  const toVerification = () => {
    window.location.href = validator.verify + "?originalUrl=" + encodeURIComponent(window.location.href);
  };
  const check = async () => {
    try {
      const resp = await fetch(validator.check, { method: "GET" });
      const data = await resp.json();
      if (!data.verified) {
        toVerification();
      }
    } catch (e) {
      toVerification();
    }
  };
  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", check);
  } else {
    check();
  }
})();
`

type validatorConfig struct {
	Check  string `json:"check"`
	Verify string `json:"verify"`
}

// Validator writes the snippet protected pages embed with a script tag.
// origin is the scheme and host the gateway is reachable at.
func Validator(w io.Writer, origin string) error {
	origin = strings.TrimSuffix(origin, "/")
	base := strings.TrimSuffix(miaoeyes.BasePrefix, "/")

	cfg, err := templ.JSONString(validatorConfig{
		Check:  origin + base + miaoeyes.APIPrefix + "check-verification",
		Verify: origin + strings.TrimSuffix(VerifyPath(), "/"),
	})
	if err != nil {
		return fmt.Errorf("web: can't encode validator config: %w", err)
	}

	return write(w, "var validator = ", cfg, ";", validatorScript)
}
