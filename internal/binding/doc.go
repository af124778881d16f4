// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

// Package binding ties a named query and its argument type to a Go result
// type, and exposes the live result as a Holder.
//
// A Def is declared once per query:
//
//	var ListMessages = binding.Def[ListArgs, []Message]{Name: "messages:list"}
//	var GetUser = binding.Def[GetUserArgs, User]{Name: "users:get", Optional: true}
//
// Bind subscribes through a client registry and keeps the holder current:
//
//	h, err := binding.Bind(ctx, reg, ListMessages, ListArgs{Channel: "general"})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	for range h.Changed() {
//	    switch st := h.Get(); st.Status {
//	    case binding.StatusOk:
//	        render(st.Value)
//	    case binding.StatusErr:
//	        showError(st.Err)
//	    }
//	}
//
// A payload that fails to decode into T moves the holder to Err("decode
// error") without ending the subscription; the next good payload recovers.
// A payload equal to the current one does not wake observers.
package binding
