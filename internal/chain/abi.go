package chain

// ABI игрового контракта: только операции, нужные геймастеру.
// Чтения используют новый 8-полевой аксессор состояния commit-reveal
// (включая hasStoredBlockHash).
const contractABI = `[
  {
    "type": "function", "name": "getGameInfo", "stateMutability": "view",
    "inputs": [{"name": "gameId", "type": "uint256"}],
    "outputs": [
      {"name": "gamemaster", "type": "address"},
      {"name": "creator", "type": "address"},
      {"name": "stakeAmount", "type": "uint256"},
      {"name": "open", "type": "bool"},
      {"name": "playerCount", "type": "uint256"},
      {"name": "hasOpened", "type": "bool"},
      {"name": "hasClosed", "type": "bool"}
    ]
  },
  {
    "type": "function", "name": "getCommitRevealState", "stateMutability": "view",
    "inputs": [{"name": "gameId", "type": "uint256"}],
    "outputs": [
      {"name": "committedHash", "type": "bytes32"},
      {"name": "commitBlockNumber", "type": "uint256"},
      {"name": "revealValue", "type": "bytes32"},
      {"name": "randomHash", "type": "bytes32"},
      {"name": "hasCommitted", "type": "bool"},
      {"name": "hasRevealed", "type": "bool"},
      {"name": "hasStoredBlockHash", "type": "bool"},
      {"name": "mapSize", "type": "uint256"}
    ]
  },
  {
    "type": "function", "name": "getPayoutInfo", "stateMutability": "view",
    "inputs": [{"name": "gameId", "type": "uint256"}],
    "outputs": [
      {"name": "winners", "type": "address[]"},
      {"name": "payoutAmount", "type": "uint256"},
      {"name": "hasPaidOut", "type": "bool"}
    ]
  },
  {
    "type": "function", "name": "getPlayers", "stateMutability": "view",
    "inputs": [{"name": "gameId", "type": "uint256"}],
    "outputs": [{"name": "players", "type": "address[]"}]
  },
  {
    "type": "function", "name": "getCommitBlockHash", "stateMutability": "view",
    "inputs": [{"name": "gameId", "type": "uint256"}],
    "outputs": [{"name": "blockHash", "type": "bytes32"}]
  },
  {
    "type": "function", "name": "commitHash", "stateMutability": "nonpayable",
    "inputs": [
      {"name": "gameId", "type": "uint256"},
      {"name": "hash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function", "name": "storeCommitBlockHash", "stateMutability": "nonpayable",
    "inputs": [
      {"name": "gameId", "type": "uint256"},
      {"name": "serverURL", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function", "name": "revealHash", "stateMutability": "nonpayable",
    "inputs": [
      {"name": "gameId", "type": "uint256"},
      {"name": "reveal", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function", "name": "payout", "stateMutability": "nonpayable",
    "inputs": [
      {"name": "gameId", "type": "uint256"},
      {"name": "winners", "type": "address[]"}
    ],
    "outputs": []
  },
  {
    "type": "event", "name": "GameCreated",
    "inputs": [
      {"name": "gameId", "type": "uint256", "indexed": true},
      {"name": "gamemaster", "type": "address", "indexed": true},
      {"name": "creator", "type": "address", "indexed": true},
      {"name": "stakeAmount", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "GameOpened",
    "inputs": [{"name": "gameId", "type": "uint256", "indexed": true}]
  },
  {
    "type": "event", "name": "GameClosed",
    "inputs": [
      {"name": "gameId", "type": "uint256", "indexed": true},
      {"name": "playerCount", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "HashCommitted",
    "inputs": [
      {"name": "gameId", "type": "uint256", "indexed": true},
      {"name": "committedHash", "type": "bytes32", "indexed": false}
    ]
  }
]`
