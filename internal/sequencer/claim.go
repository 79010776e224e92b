package sequencer

// Claim is an exclusive reservation of consecutive positions and a byte range
// of the write buffer. The owner fills Buffer and then calls exactly one of
// Commit or Abort.
type Claim struct {
	batch *Batch
	done  bool
}

// FirstPosition is the position assigned to the first entry of the claim.
func (c *Claim) FirstPosition() int64 { return c.batch.first }

// Positions is the number of positions reserved.
func (c *Claim) Positions() int { return c.batch.count }

// Buffer is the reserved byte range. It must not be retained after Commit or
// Abort.
func (c *Claim) Buffer() []byte { return c.batch.data }

// Commit publishes the claim to the consumer.
func (c *Claim) Commit() { c.finish(stateCommitted) }

// Abort drops the claim. Its positions are never reused.
func (c *Claim) Abort() { c.finish(stateAborted) }

func (c *Claim) finish(state batchState) {
	if c.done {
		return
	}
	c.done = true
	s := c.batch.owner
	s.mu.Lock()
	c.batch.state = state
	if state == stateAborted {
		s.arena.free(c.batch.region)
		c.batch.region = nil
		c.batch.data = nil
	}
	wake := s.consumer
	s.mu.Unlock()
	if state == stateAborted {
		s.observe(resultAborted)
	}
	if wake != nil {
		wake()
	}
}
