package carbon

import (
	"carbon-gocli/internal/chain"
)

const orderComponents = `[
  {"internalType":"uint128","name":"y","type":"uint128"},
  {"internalType":"uint128","name":"z","type":"uint128"},
  {"internalType":"uint64","name":"A","type":"uint64"},
  {"internalType":"uint64","name":"B","type":"uint64"}
]`

const strategyComponents = `[
  {"internalType":"uint256","name":"id","type":"uint256"},
  {"internalType":"address","name":"owner","type":"address"},
  {"internalType":"Token[2]","name":"tokens","type":"address[2]"},
  {"components":` + orderComponents + `,"internalType":"struct Order[2]","name":"orders","type":"tuple[2]"}
]`

const controllerABIJSON = `[
  {"inputs":[],"name":"pairs","outputs":[{"internalType":"Token[2][]","name":"","type":"address[2][]"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"Token","name":"token0","type":"address"},
    {"internalType":"Token","name":"token1","type":"address"},
    {"internalType":"uint256","name":"startIndex","type":"uint256"},
    {"internalType":"uint256","name":"endIndex","type":"uint256"}
  ],"name":"strategiesByPair","outputs":[{"components":` + strategyComponents + `,"internalType":"struct Strategy[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"Token","name":"token0","type":"address"},
    {"internalType":"Token","name":"token1","type":"address"}
  ],"name":"strategiesByPairCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"id","type":"uint256"}],"name":"strategy","outputs":[{"components":` + strategyComponents + `,"internalType":"struct Strategy","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"strategyId","type":"uint256"},
    {"components":` + orderComponents + `,"internalType":"struct Order[2]","name":"currentOrders","type":"tuple[2]"},
    {"components":` + orderComponents + `,"internalType":"struct Order[2]","name":"newOrders","type":"tuple[2]"}
  ],"name":"updateStrategy","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[],"name":"tradingFeePPM","outputs":[{"internalType":"uint32","name":"","type":"uint32"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"Token","name":"token0","type":"address"},
    {"internalType":"Token","name":"token1","type":"address"}
  ],"name":"pairTradingFeePPM","outputs":[{"internalType":"uint32","name":"","type":"uint32"}],"stateMutability":"view","type":"function"},

  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"uint128","name":"pairId","type":"uint128"},
    {"indexed":true,"internalType":"Token","name":"token0","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token1","type":"address"}
  ],"name":"PairCreated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"id","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"owner","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token0","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token1","type":"address"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order0","type":"tuple"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order1","type":"tuple"}
  ],"name":"StrategyCreated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"uint256","name":"id","type":"uint256"},
    {"indexed":true,"internalType":"Token","name":"token0","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token1","type":"address"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order0","type":"tuple"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order1","type":"tuple"},
    {"indexed":false,"internalType":"uint8","name":"reason","type":"uint8"}
  ],"name":"StrategyUpdated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"id","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"owner","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token0","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token1","type":"address"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order0","type":"tuple"},
    {"components":` + orderComponents + `,"indexed":false,"internalType":"struct Order","name":"order1","type":"tuple"}
  ],"name":"StrategyDeleted","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint32","name":"prevFeePPM","type":"uint32"},
    {"indexed":false,"internalType":"uint32","name":"newFeePPM","type":"uint32"}
  ],"name":"TradingFeePPMUpdated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"Token","name":"token0","type":"address"},
    {"indexed":true,"internalType":"Token","name":"token1","type":"address"},
    {"indexed":false,"internalType":"uint32","name":"prevFeePPM","type":"uint32"},
    {"indexed":false,"internalType":"uint32","name":"newFeePPM","type":"uint32"}
  ],"name":"PairTradingFeePPMUpdated","type":"event"}
]`

const voucherABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"from","type":"address"},
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"tokenId","type":"uint256"}
  ],"name":"transferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const governorABIJSON = `[
  {"inputs":[
    {"internalType":"address[]","name":"targets","type":"address[]"},
    {"internalType":"uint256[]","name":"values","type":"uint256[]"},
    {"internalType":"bytes[]","name":"calldatas","type":"bytes[]"},
    {"internalType":"string","name":"description","type":"string"}
  ],"name":"propose","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"proposalId","type":"uint256"},
    {"indexed":false,"internalType":"address","name":"proposer","type":"address"},
    {"indexed":false,"internalType":"address[]","name":"targets","type":"address[]"},
    {"indexed":false,"internalType":"uint256[]","name":"values","type":"uint256[]"},
    {"indexed":false,"internalType":"string[]","name":"signatures","type":"string[]"},
    {"indexed":false,"internalType":"bytes[]","name":"calldatas","type":"bytes[]"},
    {"indexed":false,"internalType":"uint256","name":"voteStart","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"voteEnd","type":"uint256"},
    {"indexed":false,"internalType":"string","name":"description","type":"string"}
  ],"name":"ProposalCreated","type":"event"}
]`

var (
	ControllerABI = chain.MustParseABI(controllerABIJSON)
	VoucherABI    = chain.MustParseABI(voucherABIJSON)
	GovernorABI   = chain.MustParseABI(governorABIJSON)
)
