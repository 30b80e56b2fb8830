package providers

import "sync"

// Context is scratch state shared by the providers of one platform group
// during one request, e.g. an OAuth access token fetched by the first
// provider and reused by the next. Groups never share a Context.
//
// Providers in a group run sequentially, but the mutex keeps a provider
// that fans out internally honest.
type Context struct {
	mu     sync.Mutex
	values map[string]map[string]any
}

func NewContext() *Context {
	return &Context{values: make(map[string]map[string]any)}
}

// Get returns the value stored under key in namespace.
func (c *Context) Get(namespace, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[namespace][key]
	return v, ok
}

// Set stores value under key in namespace. Namespaces are usually the
// platform name so providers of one platform can cooperate.
func (c *Context) Set(namespace, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.values[namespace]
	if !ok {
		ns = make(map[string]any)
		c.values[namespace] = ns
	}
	ns[key] = value
}

// GetString is Get for string values.
func (c *Context) GetString(namespace, key string) (string, bool) {
	v, ok := c.Get(namespace, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
