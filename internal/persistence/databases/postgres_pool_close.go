package databases

// Close allows pg-backed structs to be closed via Manager.Close's
// interface-assertion helper.
func (p *pgText) Close()   { p.pool.Close() }
func (p *pgVector) Close() { p.pool.Close() }
func (p *pgGraph) Close()  { p.pool.Close() }
