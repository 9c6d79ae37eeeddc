package query

import (
	"context"
	"testing"
)

func TestTokens_MintSupersedes(t *testing.T) {
	var tokens Tokens

	first, firstCtx := tokens.Mint(context.Background())
	if !tokens.IsCurrent(first) {
		t.Fatal("first token not current after Mint")
	}

	second, secondCtx := tokens.Mint(context.Background())
	if tokens.IsCurrent(first) {
		t.Error("first token still current after second Mint")
	}
	if !tokens.IsCurrent(second) {
		t.Error("second token not current")
	}
	if firstCtx.Err() == nil {
		t.Error("superseded token's context not cancelled")
	}
	if secondCtx.Err() != nil {
		t.Error("current token's context cancelled")
	}
	if second.ID() <= first.ID() {
		t.Errorf("IDs not increasing: %d then %d", first.ID(), second.ID())
	}
}

func TestTokens_Invalidate(t *testing.T) {
	var tokens Tokens

	if tokens.Invalidate() {
		t.Error("Invalidate() on empty Tokens = true, want false")
	}

	tok, ctx := tokens.Mint(context.Background())
	if !tokens.Invalidate() {
		t.Error("Invalidate() = false, want true")
	}
	if tokens.IsCurrent(tok) || tokens.Active() {
		t.Error("token still active after Invalidate()")
	}
	if ctx.Err() == nil {
		t.Error("context not cancelled by Invalidate()")
	}
}

func TestTokens_Finish(t *testing.T) {
	var tokens Tokens

	old, _ := tokens.Mint(context.Background())
	cur, _ := tokens.Mint(context.Background())

	if tokens.Finish(old) {
		t.Error("Finish() of superseded token = true, want false")
	}
	if !tokens.Active() {
		t.Error("Finish() of stale token retired the current one")
	}
	if !tokens.Finish(cur) {
		t.Error("Finish() of current token = false, want true")
	}
	if tokens.Active() {
		t.Error("Active() = true after Finish()")
	}
	if tokens.IsCurrent(nil) {
		t.Error("IsCurrent(nil) = true")
	}
}
