package tracking

// Notifier is embedded by view models to provide the property change half
// of PropertyNotifier. The zero value is ready to use.
type Notifier struct {
	changed handlers[string]
}

func (n *Notifier) SubscribePropertyChanged(fn func(name string)) (cancel func()) {
	return n.changed.add(fn)
}

// Notify announces that the named property was assigned. Call it after the
// new value is in place.
func (n *Notifier) Notify(name string) {
	n.changed.emit(name)
}

// Listeners reports how many subscriptions are active.
func (n *Notifier) Listeners() int {
	return n.changed.len()
}
