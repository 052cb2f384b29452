package client

// Subscription identifies one registered handler so it can be cancelled
// without disturbing other handlers on the same frame type.
type Subscription struct {
	client    *Client
	frameType string
	id        int
}

func (s *Subscription) Cancel() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if handlers, ok := s.client.handlers[s.frameType]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.client.handlers, s.frameType)
		}
	}
}

// On registers a handler for a frame type. Any number of independent
// handlers may subscribe to the same type.
func (c *Client) On(frameType string, handler Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.handlers[frameType]; !ok {
		c.handlers[frameType] = make(map[int]Handler)
	}
	c.nextSub++
	c.handlers[frameType][c.nextSub] = handler
	return &Subscription{client: c, frameType: frameType, id: c.nextSub}
}

// Off removes every handler registered for the frame type.
func (c *Client) Off(frameType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, frameType)
}

func (c *Client) dispatch(frameType string, payload []byte) {
	c.mu.Lock()
	registered := c.handlers[frameType]
	handlers := make([]Handler, 0, len(registered))
	for _, handler := range registered {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}
