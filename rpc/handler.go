package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/prisma-node/prisma/indexer"
	"github.com/prisma-node/prisma/txn"
)

// ConsensusInfo is the subset of engine state the API reads.
type ConsensusInfo interface {
	MaxConsensusRound() int
}

// CheckpointInfo is the subset of checkpoint-manager state the API reads.
type CheckpointInfo interface {
	LastSignedState() int
}

// PeerInfo is the subset of the peer table the API reads.
type PeerInfo interface {
	KnownPeerCount() int
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bal     txn.BalanceReader
	cons    ConsensusInfo
	ckpt    CheckpointInfo
	peers   PeerInfo
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler.
func NewHandler(bal txn.BalanceReader, cons ConsensusInfo, ckpt CheckpointInfo, peers PeerInfo, idx *indexer.Indexer) *Handler {
	return &Handler{bal: bal, cons: cons, ckpt: ckpt, peers: peers, indexer: idx}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "get_address_balance":
		return h.getAddressBalance(req)

	case "get_consensus_round":
		return okResponse(req.ID, h.cons.MaxConsensusRound())

	case "get_last_signed_state":
		return okResponse(req.ID, h.ckpt.LastSignedState())

	case "get_transactions":
		return h.getTransactions(req)

	case "get_peer_count":
		return okResponse(req.ID, h.peers.KnownPeerCount())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getAddressBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := txn.ValidateAddress(params.Address); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	balance, err := h.bal.GetBalance(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": balance})
}

func (h *Handler) getTransactions(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := txn.ValidateAddress(params.Address); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	entries, err := h.indexer.TransfersByAddress(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, entries)
}
