package main

import (
	"fmt"

	gokeyring "github.com/zalando/go-keyring"
)

const keyringService = "dev.doge-code.doge-code"

// SaveAPIKeyToKeyring stores the LLM provider API key in the OS keyring,
// supplementing the OPENAI_API_KEY/ANTHROPIC_API_KEY environment
// variables and the config file's llm.api_key as spec.md's ambient
// config layering names.
func SaveAPIKeyToKeyring(provider, apiKey string) error {
	if err := gokeyring.Set(keyringService, "apikey_"+provider, apiKey); err != nil {
		return fmt.Errorf("store API key in keyring: %w", err)
	}
	return nil
}

// GetAPIKeyFromKeyring retrieves a previously stored API key. A missing
// entry is not an error — callers fall through to the next config source.
func GetAPIKeyFromKeyring(provider string) (string, error) {
	apiKey, err := gokeyring.Get(keyringService, "apikey_"+provider)
	if err != nil {
		if err == gokeyring.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("retrieve API key from keyring: %w", err)
	}
	return apiKey, nil
}

// DeleteAPIKeyFromKeyring removes a stored API key.
func DeleteAPIKeyFromKeyring(provider string) error {
	if err := gokeyring.Delete(keyringService, "apikey_"+provider); err != nil && err != gokeyring.ErrNotFound {
		return fmt.Errorf("delete API key from keyring: %w", err)
	}
	return nil
}
