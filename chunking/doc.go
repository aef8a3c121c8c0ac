// Package chunking turns raw text blocks into ordered, stored chunks.
//
// Segment splits one block into units:
//   - ModeBySense yields sentences, using Unicode sentence boundaries
//   - ModeByNewline yields the block's non-empty lines verbatim
//
// An Assembler then packs units into chunks under a Policy and appends each
// chunk to a ChunkAppender, which allocates the chunk's index at write time.
//
// Basic usage:
//
//	units, err := chunking.Segment(block, core.ModeBySense)
//	if err != nil {
//		return err
//	}
//	asm, err := chunking.NewAssembler(store.Chunks())
//	if err != nil {
//		return err
//	}
//	created, err := asm.Assemble(ctx, docID, core.PolicySize, units)
package chunking
