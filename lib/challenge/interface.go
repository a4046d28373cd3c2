package challenge

import (
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/uvensys/miaoeyes/lib/config"
)

var (
	registry map[config.ChallengeType]Impl = map[config.ChallengeType]Impl{}
	regLock  sync.RWMutex
)

func Register(name config.ChallengeType, impl Impl) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name config.ChallengeType) (Impl, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, string(method))
	}
	sort.Strings(result)
	return result
}

type IssueInput struct {
	Challenges   config.Challenges
	Verification config.Verification
}

// Issued is the outcome of Impl.Issue. Secret stays with the session, Params
// are sent to the client.
type Issued struct {
	Secret string
	Params map[string]any

	// Timeout shortens the verification timeout for this session when set.
	// It never extends it.
	Timeout time.Duration
}

type Impl interface {
	// Issue generates the answer and public parameters of a new challenge.
	Issue(in *IssueInput) (*Issued, error)

	// Validate compares a client answer against the secret from Issue.
	Validate(secret, answer string) error
}

// Drawer renders the visual part of a challenge (for example a captcha
// image) from its secret. Implementations must not retain the secret.
type Drawer interface {
	Draw(w io.Writer, typ config.ChallengeType, secret string) error
}

// Renderer shows the interactive challenge page to a client.
type Renderer interface {
	RenderChallenge(w http.ResponseWriter, r *http.Request, pub Public)
}
