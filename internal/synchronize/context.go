package synchronize

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"
)

// Context owns the Objects of one channel kind, keyed by application key.
// An Object lives until it is removed or its last subscriber leaves.
type Context struct {
	name      string
	transport Transport

	mu       sync.Mutex
	objects  map[string]*Object
	onCreate []func(*Object)
}

func newContext(name string, t Transport) *Context {
	return &Context{
		name:      name,
		transport: t,
		objects:   make(map[string]*Object),
	}
}

func (c *Context) Name() string { return c.name }

// Add tracks v under key.
func (c *Context) Add(key string, v any) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[key]; ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, key, ErrKeyInUse)
	}
	return c.addLocked(key, v)
}

func (c *Context) addLocked(key string, v any) (*Object, error) {
	obj, err := newObject(key, v, c.transport, c)
	if err != nil {
		return nil, err
	}
	c.objects[key] = obj
	for _, fn := range c.onCreate {
		fn(obj)
	}
	glog.V(1).Infof("[sync] %s/%s registered", c.name, key)
	return obj, nil
}

// OnCreate registers fn to run for every Object this context creates from
// now on. fn runs under the context lock and must not call back into it.
func (c *Context) OnCreate(fn func(*Object)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCreate = append(c.onCreate, fn)
}

// Get returns the Object registered under key.
func (c *Context) Get(key string) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[key]
	return obj, ok
}

// GetOrAdd returns the Object under key, calling load to produce the value
// to track when none is registered yet.
func (c *Context) GetOrAdd(key string, load func() (any, error)) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrAddLocked(key, load)
}

func (c *Context) getOrAddLocked(key string, load func() (any, error)) (*Object, error) {
	if obj, ok := c.objects[key]; ok {
		return obj, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	return c.addLocked(key, v)
}

// Remove closes and unregisters the Object under key.
func (c *Context) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[key]
	if !ok {
		return false
	}
	delete(c.objects, key)
	obj.Close()
	return true
}

// RemoveWith closes the Object under key, if any, and then runs fn before
// the key is released. GetOrAdd and Subscribe for key wait until fn
// returns.
func (c *Context) RemoveWith(key string, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.objects[key]; ok {
		delete(c.objects, key)
		obj.Close()
	}
	return fn()
}

// Subscribe binds subs under localKey to the Object registered under key,
// creating it from load first if needed. Creation and binding happen under
// the context lock so the new Object cannot be released in between.
func (c *Context) Subscribe(subs *Subscriptions, localKey, key string, load func() (any, error)) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, existed := c.objects[key]
	obj, err := c.getOrAddLocked(key, load)
	if err != nil {
		return nil, err
	}
	if err := subs.Add(localKey, obj); err != nil {
		if !existed && obj.Connections() == 0 {
			delete(c.objects, key)
			obj.Close()
		}
		return nil, err
	}
	return obj, nil
}

// Release closes the Object under key if no connection is bound to it. It
// reports whether the object was closed.
func (c *Context) Release(key string) bool {
	c.mu.Lock()
	obj, ok := c.objects[key]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.release(obj)
}

// release closes obj when nothing is bound to it anymore.
func (c *Context) release(obj *Object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objects[obj.key] != obj || obj.Connections() > 0 {
		return false
	}
	delete(c.objects, obj.key)
	obj.Close()
	glog.V(1).Infof("[sync] %s/%s released", c.name, obj.key)
	return true
}

// Keys returns the registered keys, sorted.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

func (c *Context) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, obj := range c.objects {
		delete(c.objects, key)
		obj.Close()
	}
}
