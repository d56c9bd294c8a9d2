package contracts

// MilestoneEscrowABI is the interface of the deployed milestone escrow contract.
// It must match the deployed bytecode; a mismatch only shows up as a failed
// remote call.
const MilestoneEscrowABI = `[
	{
		"type": "function",
		"name": "owner",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "function",
		"name": "getBalance",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "nextMilestoneId",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "milestones",
		"stateMutability": "view",
		"inputs": [{"name": "", "type": "uint256"}],
		"outputs": [
			{"name": "description", "type": "string"},
			{"name": "totalAmount", "type": "uint256"},
			{"name": "vendor", "type": "address"},
			{"name": "imageProofHash", "type": "string"},
			{"name": "isInitialPaid", "type": "bool"},
			{"name": "isFinalPaid", "type": "bool"},
			{"name": "proofSubmitted", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "vendorRegistry",
		"stateMutability": "view",
		"inputs": [{"name": "", "type": "address"}],
		"outputs": [
			{"name": "name", "type": "string"},
			{"name": "category", "type": "string"},
			{"name": "isVerified", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "registerVendor",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_vAddr", "type": "address"},
			{"name": "_name", "type": "string"},
			{"name": "_cat", "type": "string"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "addMilestone",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_description", "type": "string"},
			{"name": "_amount", "type": "uint256"},
			{"name": "_vendor", "type": "address"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "releaseInitial50Percent",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "_id", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "releaseFinal50Percent",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "_id", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "submitProof",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_id", "type": "uint256"},
			{"name": "_ipfsHash", "type": "string"}
		],
		"outputs": []
	},
	{
		"type": "receive",
		"stateMutability": "payable"
	}
]`

// Signatures lists the contract methods in human-readable form, in ABI order.
var Signatures = []string{
	"function owner() view returns (address)",
	"function getBalance() view returns (uint256)",
	"function nextMilestoneId() view returns (uint256)",
	"function milestones(uint256) view returns (string description, uint256 totalAmount, address vendor, string imageProofHash, bool isInitialPaid, bool isFinalPaid, bool proofSubmitted)",
	"function vendorRegistry(address) view returns (string name, string category, bool isVerified)",
	"function registerVendor(address _vAddr, string _name, string _cat)",
	"function addMilestone(string _description, uint256 _amount, address _vendor)",
	"function releaseInitial50Percent(uint256 _id)",
	"function releaseFinal50Percent(uint256 _id)",
	"function submitProof(uint256 _id, string _ipfsHash)",
	"receive() external payable",
}

// Method names of the escrow contract.
const (
	MethodOwner           = "owner"
	MethodGetBalance      = "getBalance"
	MethodNextMilestoneID = "nextMilestoneId"
	MethodMilestones      = "milestones"
	MethodVendorRegistry  = "vendorRegistry"
	MethodRegisterVendor  = "registerVendor"
	MethodAddMilestone    = "addMilestone"
	MethodReleaseInitial  = "releaseInitial50Percent"
	MethodReleaseFinal    = "releaseFinal50Percent"
	MethodSubmitProof     = "submitProof"
	MethodReceive         = "receive"
)

// DefaultAddress is the escrow instance the dashboard was deployed against.
const DefaultAddress = "0x18c40dd3e5bB73232AB6C7F294DedB95Ed1D682D"
