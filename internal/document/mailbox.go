package document

// Mailbox capability types. Each queue direction has exactly one producer
// process and one consumer process; handing a process only the capability
// for its role makes a double-consumer a compile-time error instead of a
// replication bug.

// RequestProducer pushes mini-app inference requests. Held by the render
// process.
type RequestProducer struct {
	doc *Doc
}

// RequestProducer issues the request-queue producer capability.
func (d *Doc) RequestProducer() RequestProducer { return RequestProducer{doc: d} }

// Push appends one request in its own transaction.
func (p RequestProducer) Push(req AgentRequest) {
	p.doc.Change(func(tx *Tx) { tx.PushRequest(req) })
}

// RequestConsumer drains mini-app requests. Held by the control process.
type RequestConsumer struct {
	doc *Doc
}

// RequestConsumer issues the request-queue consumer capability.
func (d *Doc) RequestConsumer() RequestConsumer { return RequestConsumer{doc: d} }

// Take checks the exit flag and removes the queue head in one
// transaction. A raised exit flag suppresses the pop so shutdown never
// consumes work it will not answer.
func (c RequestConsumer) Take() (req AgentRequest, ok bool, exit bool) {
	c.doc.Change(func(tx *Tx) {
		exit = tx.ShouldExit()
		if exit {
			return
		}
		req, ok = tx.PopRequest()
	})
	return req, ok, exit
}

// ResponseProducer pushes agent responses. Held by the control process.
type ResponseProducer struct {
	doc *Doc
}

// ResponseProducer issues the response-queue producer capability.
func (d *Doc) ResponseProducer() ResponseProducer { return ResponseProducer{doc: d} }

// Push appends one response in its own transaction.
func (p ResponseProducer) Push(resp AgentResponse) {
	p.doc.Change(func(tx *Tx) { tx.PushResponse(resp) })
}

// LaunchApp registers the webview and enqueues the matching WebApp
// response in one transaction, so the consumer can never observe one
// without the other.
func (p ResponseProducer) LaunchApp(id, content string) {
	p.doc.Change(func(tx *Tx) {
		tx.PutWebview(id, content)
		tx.PushResponse(AgentResponse{Kind: ResponseWebApp, ID: id, Content: content})
	})
}

// ResponseConsumer drains agent responses. Held by the render process.
type ResponseConsumer struct {
	doc *Doc
}

// ResponseConsumer issues the response-queue consumer capability.
func (d *Doc) ResponseConsumer() ResponseConsumer { return ResponseConsumer{doc: d} }

// Pop removes and returns the queue head, if any.
func (c ResponseConsumer) Pop() (AgentResponse, bool) {
	var (
		resp AgentResponse
		ok   bool
	)
	c.doc.Change(func(tx *Tx) { resp, ok = tx.PopResponse() })
	return resp, ok
}

// Take checks the exit flag and removes the queue head in one
// transaction. A raised exit flag suppresses the pop.
func (c ResponseConsumer) Take() (resp AgentResponse, ok bool, exit bool) {
	c.doc.Change(func(tx *Tx) {
		exit = tx.ShouldExit()
		if exit {
			return
		}
		resp, ok = tx.PopResponse()
	})
	return resp, ok, exit
}
