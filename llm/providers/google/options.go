package google

// Option is a function that configures the Provider
type Option func(*Provider)

func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.apiKey = apiKey
	}
}

func WithProjectID(projectID string) Option {
	return func(p *Provider) {
		p.projectID = projectID
	}
}

func WithLocation(location string) Option {
	return func(p *Provider) {
		p.location = location
	}
}

func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(p *Provider) {
		p.maxTokens = maxTokens
	}
}
