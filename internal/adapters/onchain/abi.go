package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs
var (
	hiloABI  abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error

	hiloABI, err = abi.JSON(strings.NewReader(`[
		{"name": "getPrice", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "tokenId", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "balanceOf", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "account", "type": "address"}, {"name": "id", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "totalSupply", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "id", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "gameWon", "type": "function", "stateMutability": "view",
		 "inputs": [],
		 "outputs": [{"name": "", "type": "bool"}]},
		{"name": "getWinners", "type": "function", "stateMutability": "view",
		 "inputs": [],
		 "outputs": [{"name": "", "type": "address[]"}]},
		{"name": "checkInQueue", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "tokenId", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "canSell", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "tokenId", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "bool"}]},
		{"name": "buy", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "tokenId", "type": "uint256"}, {"name": "amount", "type": "uint256"}],
		 "outputs": []},
		{"name": "sell", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "tokenId", "type": "uint256"}],
		 "outputs": []},
		{"name": "addToQueue", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "tokenId", "type": "uint256"}],
		 "outputs": []},
		{"name": "PriceUpdated", "type": "event", "anonymous": false,
		 "inputs": [
			{"name": "player", "type": "address", "indexed": true},
			{"name": "tokenId", "type": "uint256", "indexed": false}
		 ]},
		{"name": "PricesConverged", "type": "event", "anonymous": false,
		 "inputs": [
			{"name": "winners", "type": "address[]", "indexed": false},
			{"name": "price", "type": "uint256", "indexed": false}
		 ]}
	]`))
	if err != nil {
		panic("hilo abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}
