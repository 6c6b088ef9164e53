package chain

// CoinFlipABI is the subset of the game contract ABI the client uses.
const CoinFlipABI = `[
  {
    "type": "function",
    "name": "flip",
    "stateMutability": "payable",
    "inputs": [{"name": "choice", "type": "uint8"}],
    "outputs": [{"name": "gameId", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "minWager",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "maxWager",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "GameRequested",
    "anonymous": false,
    "inputs": [
      {"name": "gameId", "type": "uint256", "indexed": true},
      {"name": "player", "type": "address", "indexed": true},
      {"name": "choice", "type": "uint8", "indexed": false},
      {"name": "wager", "type": "uint256", "indexed": false},
      {"name": "requestId", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "GameSettled",
    "anonymous": false,
    "inputs": [
      {"name": "gameId", "type": "uint256", "indexed": true},
      {"name": "player", "type": "address", "indexed": true},
      {"name": "result", "type": "uint8", "indexed": false},
      {"name": "payout", "type": "uint256", "indexed": false},
      {"name": "requestId", "type": "uint256", "indexed": false}
    ]
  }
]`

const (
	EventGameRequested = "GameRequested"
	EventGameSettled   = "GameSettled"

	methodFlip     = "flip"
	methodMinWager = "minWager"
	methodMaxWager = "maxWager"
)

// RawLog keys added by the reader on top of the ABI-decoded event fields.
const (
	KeyTxHash      = "txHash"
	KeyBlockNumber = "blockNumber"
	KeyLogIndex    = "logIndex"
)
