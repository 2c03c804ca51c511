package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAzureStyleProvider_ResolvesDeploymentName(t *testing.T) {
	p := &AzureStyleProvider{
		TierMap:      map[string]string{"opus": "gpt-4-deployment"},
		DefaultModel: "gpt-35-deployment",
	}
	require.Equal(t, "gpt-4-deployment", p.ModelFor("claude-3-opus-20240229"))
	require.Equal(t, "gpt-35-deployment", p.ModelFor("claude-unknown"))
}

func TestOpenAIProvider_PassesThroughUnmappedModel(t *testing.T) {
	p := &OpenAIProvider{}
	alt, err := p.TranslateForward(NativeRequest{Model: "claude-3-opus", MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, "claude-3-opus", alt.Model)
}

func TestProvider_RoundTripThroughInterface(t *testing.T) {
	var p Provider = &AzureStyleProvider{DefaultModel: "default-deployment"}
	alt, err := p.TranslateForward(NativeRequest{Model: "claude-haiku", MaxTokens: 5, Messages: []Message{{Role: "user"}}})
	require.NoError(t, err)
	require.Equal(t, "default-deployment", alt.Model)
}
