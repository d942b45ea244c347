// Package openaicompat implements a backend for any service that speaks the
// OpenAI Chat Completions and Images APIs.
//
// Vendors such as DeepSeek, Qwen, GLM, Grok or a local vLLM gateway only
// differ in base URL, default model and headers, so they are configured
// rather than subclassed:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       key,
//	    BaseURL:      "https://api.deepseek.com",
//	    DefaultModel: "deepseek-chat",
//	}, logger)
//
// Streaming uses SSE with stream_options.include_usage so the final chunk
// carries token usage. Image generation posts to /v1/images/generations
// and accepts either a hosted URL or inline b64_json.
package openaicompat
