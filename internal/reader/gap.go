package reader

// Gap marks a PTS range a ReadRange query could not serve from either
// tier — lost footage between the warm archive and the Hot Buffer, or
// before either has any data at all.
type Gap struct {
	PTSStart int64
	PTSEnd   int64
}

// Item is one unit of a ReadRange result: exactly one of Gap or Data is
// set, mirroring the PAT/PMT/PES discriminated-union shape
// mpegts.DemuxerData uses for the same reason (a single ordered stream of
// heterogeneous units).
type Item struct {
	Gap  *Gap
	Data []byte
}
