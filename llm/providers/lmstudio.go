package providers

import (
	"net/http"

	"github.com/c360studio/mermaidgen/llm"
)

// DefaultLMStudioURL is where LM Studio serves its local API.
const DefaultLMStudioURL = "http://127.0.0.1:1234"

// LMStudioProvider speaks the OpenAI protocol to a local LM Studio server.
// It differs from OpenAIProvider only in its default URL and in sending no
// credentials.
type LMStudioProvider struct {
	OpenAIProvider // Embed for shared request/response format
}

func init() {
	llm.RegisterProvider(&LMStudioProvider{})
}

// Name returns the provider identifier.
func (p *LMStudioProvider) Name() string {
	return "lmstudio"
}

// BuildURL constructs the chat completions endpoint.
func (p *LMStudioProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultLMStudioURL
	}
	return apiRoot(baseURL) + "/chat/completions"
}

// ModelsURL constructs the model listing endpoint.
func (p *LMStudioProvider) ModelsURL(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultLMStudioURL
	}
	return apiRoot(baseURL) + "/models"
}

// SetHeaders is a no-op; LM Studio does not authenticate.
func (p *LMStudioProvider) SetHeaders(_ *http.Request) {}
