// Package tool provides the function tools a chat model may call during a turn.
package tool

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Tool is a function the model can call. Run receives the decoded call arguments and returns the
// JSON object handed back to the model.
type Tool interface {
	Name() string
	Description() string
	Declaration() *genai.FunctionDeclaration
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Provider is an ordered set of tools addressed by name.
type Provider struct {
	tools map[string]Tool
	order []string
}

// NewProvider registers tools in order. Nil tools are ignored; a later tool replaces an earlier
// one with the same name.
func NewProvider(tools ...Tool) *Provider {
	p := &Provider{tools: make(map[string]Tool)}
	for _, t := range tools {
		p.Add(t)
	}
	return p
}

func (p *Provider) Add(t Tool) {
	if t == nil {
		return
	}
	if _, exists := p.tools[t.Name()]; !exists {
		p.order = append(p.order, t.Name())
	}
	p.tools[t.Name()] = t
}

func (p *Provider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

func (p *Provider) Lookup(name string) (Tool, bool) {
	if p == nil {
		return nil, false
	}
	t, ok := p.tools[name]
	return t, ok
}

// Declarations returns every tool as a single genai.Tool, or nil when the provider is empty.
func (p *Provider) Declarations() []*genai.Tool {
	if p.Len() == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(p.order))
	for _, name := range p.order {
		decls = append(decls, p.tools[name].Declaration())
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Call runs the named tool. Unknown tools and tool failures are reported as errors.
func (p *Provider) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, ok := p.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	result, err := t.Run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, err)
	}
	return result, nil
}

type sessionKey struct{}

// WithSessionID attaches the chat session to ctx so tools can scope their work to it.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
