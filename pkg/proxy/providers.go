package proxy

// Provider abstracts one alternate upstream's request/response
// translation and model-tier resolution, so a third vendor can be
// added without touching the listener.
type Provider interface {
	// Name identifies the provider for logging and route decisions.
	Name() string
	// TranslateForward converts a native request into this provider's
	// wire format.
	TranslateForward(req NativeRequest) (AlternateRequest, error)
	// TranslateReverse converts this provider's response back into the
	// native format.
	TranslateReverse(resp AlternateResponse) (NativeResponse, error)
	// ModelFor resolves a native model tier to this provider's
	// deployment/model name.
	ModelFor(nativeModel string) string
}

// AzureStyleProvider implements the spec's named alternate format: a
// deployment-name-keyed OpenAI-compatible endpoint.
type AzureStyleProvider struct {
	TierMap      map[string]string
	DefaultModel string
}

func (p *AzureStyleProvider) Name() string { return "azure" }

func (p *AzureStyleProvider) TranslateForward(req NativeRequest) (AlternateRequest, error) {
	alt := ForwardRequest(req)
	alt.Model = p.ModelFor(req.Model)
	return alt, nil
}

func (p *AzureStyleProvider) TranslateReverse(resp AlternateResponse) (NativeResponse, error) {
	return ReverseResponse(resp)
}

func (p *AzureStyleProvider) ModelFor(nativeModel string) string {
	return ResolveModel(nativeModel, p.TierMap, p.DefaultModel)
}

// OpenAIProvider implements a plain OpenAI-compatible chat completions
// endpoint: the tier map and default model replace the model name when
// they resolve one; otherwise the native model name passes through
// unchanged.
type OpenAIProvider struct {
	TierMap      map[string]string
	DefaultModel string
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) TranslateForward(req NativeRequest) (AlternateRequest, error) {
	alt := ForwardRequest(req)
	if mapped := p.ModelFor(req.Model); mapped != "" {
		alt.Model = mapped
	} else {
		alt.Model = req.Model
	}
	return alt, nil
}

func (p *OpenAIProvider) TranslateReverse(resp AlternateResponse) (NativeResponse, error) {
	return ReverseResponse(resp)
}

func (p *OpenAIProvider) ModelFor(nativeModel string) string {
	return ResolveModel(nativeModel, p.TierMap, p.DefaultModel)
}

// newProvider builds the Provider a Listener routes alternate-upstream
// traffic through, selected by style. An unrecognized or empty style
// falls back to the azure-deployment style, matching the listener's
// historical (pre-Provider) behavior.
func newProvider(style string, tierMap map[string]string, defaultModel string) Provider {
	switch style {
	case "openai":
		return &OpenAIProvider{TierMap: tierMap, DefaultModel: defaultModel}
	default:
		return &AzureStyleProvider{TierMap: tierMap, DefaultModel: defaultModel}
	}
}
